// Package memory provides in-memory adapter implementations for tests
// and ephemeral runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory document store.
type DocumentStore struct {
	mu         sync.RWMutex
	documents  map[string]domain.Document
	texts      map[string]domain.ExtractedText
	chunks     map[string]domain.Chunk
	embeddings map[string][]float32
	byDocument map[string][]string
}

// NewDocumentStore creates an empty in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents:  make(map[string]domain.Document),
		texts:      make(map[string]domain.ExtractedText),
		chunks:     make(map[string]domain.Chunk),
		embeddings: make(map[string][]float32),
		byDocument: make(map[string][]string),
	}
}

// SaveDocument stores or updates a document.
func (s *DocumentStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = *doc
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

// ListDocuments returns all documents in ID order.
func (s *DocumentStore) ListDocuments(_ context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// SaveExtractedText stores the extraction result for a document.
func (s *DocumentStore) SaveExtractedText(_ context.Context, et *domain.ExtractedText) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[et.DocumentID] = *et
	return nil
}

// GetExtractedText retrieves the current extraction for a document.
func (s *DocumentStore) GetExtractedText(_ context.Context, documentID string) (*domain.ExtractedText, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	et, ok := s.texts[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &et, nil
}

// ReplaceChunks swaps the chunk set of a document.
func (s *DocumentStore) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(embeddings) != len(chunks) {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byDocument[documentID] {
		delete(s.chunks, id)
		delete(s.embeddings, id)
	}

	ids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		s.chunks[chunk.ID] = chunk
		s.embeddings[chunk.ID] = embeddings[i]
		ids = append(ids, chunk.ID)
	}
	s.byDocument[documentID] = ids
	return nil
}

// GetChunk retrieves a single chunk by ID.
func (s *DocumentStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunk, ok := s.chunks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &chunk, nil
}

// LoadAllChunks streams every chunk in (document, position) order.
func (s *DocumentStore) LoadAllChunks(_ context.Context, fn func(chunk domain.Chunk, embedding []float32) error) error {
	s.mu.RLock()
	chunks := make([]domain.Chunk, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		chunks = append(chunks, chunk)
	}
	s.mu.RUnlock()

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].Position < chunks[j].Position
	})

	for _, chunk := range chunks {
		s.mu.RLock()
		embedding := s.embeddings[chunk.ID]
		s.mu.RUnlock()
		if err := fn(chunk, embedding); err != nil {
			return err
		}
	}
	return nil
}

// RecordError stores the last failure message for a document.
func (s *DocumentStore) RecordError(_ context.Context, documentID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.documents[documentID]
	doc.ID = documentID
	doc.LastError = message
	s.documents[documentID] = doc
	return nil
}

// Close releases resources.
func (s *DocumentStore) Close() error {
	return nil
}
