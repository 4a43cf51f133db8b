package driven

import (
	"context"

	"github.com/refrab/refrab/internal/core/domain"
)

// DocumentStore persists the local mirror of documents, their extracted
// text and chunks. Backed by SQLite.
type DocumentStore interface {
	// SaveDocument stores or updates the local mirror of a library item.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a mirrored document by ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns all mirrored documents. Used to resolve
	// metadata filters before ranking.
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// SaveExtractedText stores the extraction result for a document,
	// superseding any previous one.
	SaveExtractedText(ctx context.Context, et *domain.ExtractedText) error

	// GetExtractedText retrieves the current extraction for a document.
	GetExtractedText(ctx context.Context, documentID string) (*domain.ExtractedText, error)

	// ReplaceChunks deletes all chunks for the document and writes the new
	// set with their embeddings in one transaction.
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk, embeddings [][]float32) error

	// GetChunk retrieves a single chunk by ID.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// LoadAllChunks streams every stored chunk with its embedding, in
	// (document_id, position) order. Used to rebuild the in-memory indexes
	// at startup.
	LoadAllChunks(ctx context.Context, fn func(chunk domain.Chunk, embedding []float32) error) error

	// RecordError stores the last processing failure message for a document.
	RecordError(ctx context.Context, documentID, message string) error

	// Close releases resources.
	Close() error
}
