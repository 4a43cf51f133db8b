package driving

import (
	"context"

	"github.com/refrab/refrab/internal/core/domain"
)

// SearchService performs hybrid retrieval over the indexed library.
type SearchService interface {
	// Search returns ranked chunks for the query.
	Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error)
}

// AskService answers questions grounded in retrieved passages.
type AskService interface {
	// Ask retrieves context for the question and calls the inference
	// service. Returns domain.ErrNoRelevantContext when retrieval is empty.
	Ask(ctx context.Context, question string, opts domain.SearchOptions) (*domain.Answer, error)
}
