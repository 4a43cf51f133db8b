package services

import (
	"context"
	"fmt"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/logger"
)

// DocumentQueue is the tag-driven state machine over the reference
// library. The library's tags are the single source of truth; the queue
// never caches state between calls.
type DocumentQueue struct {
	library driven.LibrarySource
}

// NewDocumentQueue creates a queue over the given library source.
func NewDocumentQueue(library driven.LibrarySource) *DocumentQueue {
	return &DocumentQueue{library: library}
}

// List returns all documents in the given state, in stable insertion
// order of discovery.
func (q *DocumentQueue) List(ctx context.Context, state domain.State) ([]domain.Document, error) {
	tag := domain.StateTag(state)
	if tag == "" {
		return nil, fmt.Errorf("%w: no tag for state %q", domain.ErrInvalidInput, state)
	}
	docs, err := q.library.ListByTag(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", state, err)
	}
	return docs, nil
}

// Transition moves a document from one state to another. It re-reads the
// item's tags first and fails with domain.ErrConflict when the current
// state is not the expected one, guarding against double-processing.
//
// The from-tag is removed before the to-tag is added: a crash between the
// two leaves the item without a state tag, visible as unknown, rather
// than carrying two state tags at once.
func (q *DocumentQueue) Transition(ctx context.Context, doc *domain.Document, from, to domain.State) error {
	current, err := q.library.GetItem(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("read item %s: %w", doc.ID, err)
	}
	if got := current.Status(); got != from {
		return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrConflict, doc.ID, got, from)
	}

	if err := q.library.RemoveTag(ctx, doc.ID, domain.StateTag(from)); err != nil {
		return fmt.Errorf("remove tag %s from %s: %w", domain.StateTag(from), doc.ID, err)
	}
	if err := q.library.AddTag(ctx, doc.ID, domain.StateTag(to)); err != nil {
		return fmt.Errorf("add tag %s to %s: %w", domain.StateTag(to), doc.ID, err)
	}

	// Mirror the change on the caller's copy.
	tags := make([]string, 0, len(doc.Tags)+1)
	for _, t := range doc.Tags {
		if t != domain.StateTag(from) {
			tags = append(tags, t)
		}
	}
	doc.Tags = append(tags, domain.StateTag(to))

	logger.Debug("Queue transition: %s %s -> %s", doc.ID, from, to)
	return nil
}
