package driven

import (
	"context"

	"github.com/refrab/refrab/internal/core/domain"
)

// ChunkFilter restricts a query to chunks whose document passes the
// predicate. A nil filter admits everything. Filtering happens before
// ranking so the top-k budget is never wasted on discarded chunks.
type ChunkFilter func(documentID string) bool

// IndexHit is a ranked chunk reference returned by the retrieval index.
type IndexHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// DocumentID is the chunk's owning document.
	DocumentID string

	// Score is the relevance score. BM25 for lexical hits, cosine
	// similarity for vector hits, fused score for hybrid hits.
	Score float64
}

// RetrievalIndex is the dual lexical/vector index over chunks.
//
// Upsert replaces all entries for a document in both indexes atomically:
// readers either see the complete prior state or the complete new state,
// never a partial write. For every chunk in the lexical index the same
// chunk is present in the vector index and vice versa.
type RetrievalIndex interface {
	// Upsert replaces the document's entries in both indexes, or fails
	// leaving the prior entries intact. A concurrent upsert for the same
	// document ID returns domain.ErrIndexBusy.
	Upsert(ctx context.Context, documentID string, chunks []domain.Chunk, embeddings [][]float32) error

	// QueryLexical returns the top-k chunks by BM25 relevance.
	QueryLexical(ctx context.Context, text string, k int, filter ChunkFilter) ([]IndexHit, error)

	// QueryVector embeds the query (served from the embedding cache when
	// possible) and returns the top-k chunks by cosine similarity.
	QueryVector(ctx context.Context, text string, k int, filter ChunkFilter) ([]IndexHit, error)

	// QueryHybrid merges both result sets, deduplicated by chunk ID and
	// re-ranked by a linear combination of normalised scores. Result order
	// is deterministic for a fixed index state.
	QueryHybrid(ctx context.Context, text string, k int, filter ChunkFilter) ([]IndexHit, error)
}
