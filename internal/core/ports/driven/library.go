package driven

import (
	"context"

	"github.com/refrab/refrab/internal/core/domain"
)

// LibrarySource is the reference-manager collaborator that owns documents
// and their tags. The core only reads items via tag-filtered listing and
// mutates tags through this interface; it never deletes or renames items.
type LibrarySource interface {
	// ListByTag returns all items carrying the given tag, in stable
	// insertion order of discovery.
	ListByTag(ctx context.Context, tag string) ([]domain.Document, error)

	// GetItem returns the current state of a single item.
	GetItem(ctx context.Context, id string) (*domain.Document, error)

	// AddTag adds a tag to an item. Adding an existing tag is a no-op.
	AddTag(ctx context.Context, id, tag string) error

	// RemoveTag removes a tag from an item. Removing an absent tag is a
	// no-op.
	RemoveTag(ctx context.Context, id, tag string) error

	// FetchBytes downloads the PDF attachment of an item.
	FetchBytes(ctx context.Context, id string) ([]byte, error)
}
