package memory

import (
	"context"
	"sync"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
)

// Ensure Library implements the interface.
var _ driven.LibrarySource = (*Library)(nil)

// Library is an in-memory library source. Items keep their insertion
// order so tag listings are stable across calls.
type Library struct {
	mu    sync.RWMutex
	order []string
	items map[string]domain.Document
	files map[string][]byte
}

// NewLibrary creates an empty in-memory library.
func NewLibrary() *Library {
	return &Library{
		items: make(map[string]domain.Document),
		files: make(map[string][]byte),
	}
}

// AddItem inserts or replaces an item with its attachment bytes.
func (l *Library) AddItem(doc domain.Document, file []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[doc.ID]; !ok {
		l.order = append(l.order, doc.ID)
	}
	l.items[doc.ID] = doc
	l.files[doc.ID] = file
}

// ListByTag returns all items carrying the tag in insertion order.
func (l *Library) ListByTag(_ context.Context, tag string) ([]domain.Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var docs []domain.Document
	for _, id := range l.order {
		doc := l.items[id]
		for _, t := range doc.Tags {
			if t == tag {
				docs = append(docs, doc)
				break
			}
		}
	}
	return docs, nil
}

// GetItem returns the current state of a single item.
func (l *Library) GetItem(_ context.Context, id string) (*domain.Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc, ok := l.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

// AddTag adds a tag to an item. Adding an existing tag is a no-op.
func (l *Library) AddTag(_ context.Context, id, tag string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, t := range doc.Tags {
		if t == tag {
			return nil
		}
	}
	doc.Tags = append(append([]string(nil), doc.Tags...), tag)
	l.items[id] = doc
	return nil
}

// RemoveTag removes a tag from an item. Removing an absent tag is a
// no-op.
func (l *Library) RemoveTag(_ context.Context, id, tag string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	tags := make([]string, 0, len(doc.Tags))
	for _, t := range doc.Tags {
		if t != tag {
			tags = append(tags, t)
		}
	}
	doc.Tags = tags
	l.items[id] = doc
	return nil
}

// FetchBytes returns the attachment bytes of an item.
func (l *Library) FetchBytes(_ context.Context, id string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.files[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}
