package domain

// SearchOptions configures a retrieval query.
type SearchOptions struct {
	// Limit is the maximum number of results.
	Limit int

	// Tag restricts candidates to documents carrying this library tag.
	Tag string

	// Author restricts candidates to documents by this author
	// (case-insensitive substring match).
	Author string
}

// SearchResult represents a single retrieval hit.
type SearchResult struct {
	// Document is the matched document.
	Document Document

	// Chunk is the specific chunk that matched.
	Chunk Chunk

	// Score is the relevance score. For hybrid queries this is the fused
	// score; for single-index queries the raw index score.
	Score float64

	// Preview is a short snippet of the chunk text.
	Preview string
}

// Citation identifies a chunk used as grounding for an answer.
type Citation struct {
	ChunkID    string
	DocumentID string
	Title      string
	Position   int
}

// Answer is the result of a retrieval-augmented inference call.
type Answer struct {
	// Text is the inference output.
	Text string

	// Citations lists the chunks whose text was part of the context.
	Citations []Citation

	// FromCache is true when the answer was served from the query cache
	// without calling the inference service.
	FromCache bool
}
