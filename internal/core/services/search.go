package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/core/ports/driving"
	"github.com/refrab/refrab/internal/index"
	"github.com/refrab/refrab/internal/logger"
)

// Search defaults.
const (
	DefaultSearchLimit     = 10
	DefaultResultCacheSize = 256
	previewLength          = 180
)

// Ensure Search implements the interface.
var _ driving.SearchService = (*Search)(nil)

// Search performs hybrid retrieval with metadata filtering and a bounded
// result cache. Filtering happens before ranking: the candidate document
// set is resolved first and pushed into the index queries.
type Search struct {
	idx   driven.RetrievalIndex
	store driven.DocumentStore
	cache *index.LRU[[]domain.SearchResult]
}

// NewSearch creates the search service.
func NewSearch(idx driven.RetrievalIndex, store driven.DocumentStore) *Search {
	return &Search{
		idx:   idx,
		store: store,
		cache: index.NewLRU[[]domain.SearchResult](DefaultResultCacheSize),
	}
}

// Search returns ranked chunks for the query.
func (s *Search) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	logger.Section("Search Execution")

	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.SearchResult{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	cacheKey := resultCacheKey(query, opts, limit)
	if cached, ok := s.cache.Get(cacheKey); ok {
		logger.Debug("Search cache hit for %q", query)
		return cached, nil
	}

	filter, err := s.buildFilter(ctx, opts)
	if err != nil {
		return nil, err
	}

	hits, err := s.idx.QueryHybrid(ctx, query, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("hybrid query: %w", err)
	}
	logger.Debug("Hybrid query: %d hits", len(hits))

	results, err := s.hydrate(ctx, hits)
	if err != nil {
		return nil, err
	}

	s.cache.Put(cacheKey, results)
	return results, nil
}

// buildFilter resolves metadata filters into a document allowlist.
// Returns nil when no filter applies so the index skips the check.
func (s *Search) buildFilter(ctx context.Context, opts domain.SearchOptions) (driven.ChunkFilter, error) {
	if opts.Tag == "" && opts.Author == "" {
		return nil, nil
	}

	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve filters: %w", err)
	}

	allowed := make(map[string]struct{})
	for _, doc := range docs {
		if opts.Tag != "" && !hasTag(&doc, opts.Tag) {
			continue
		}
		if opts.Author != "" && !hasAuthor(&doc, opts.Author) {
			continue
		}
		allowed[doc.ID] = struct{}{}
	}
	logger.Debug("Filter admits %d documents", len(allowed))

	return func(documentID string) bool {
		_, ok := allowed[documentID]
		return ok
	}, nil
}

// hydrate converts index hits into full results with document metadata
// and a short preview.
func (s *Search) hydrate(ctx context.Context, hits []driven.IndexHit) ([]domain.SearchResult, error) {
	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		chunk, err := s.store.GetChunk(ctx, hit.ChunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get chunk %s: %w", hit.ChunkID, err)
		}
		doc, err := s.store.GetDocument(ctx, hit.DocumentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get document %s: %w", hit.DocumentID, err)
		}
		results = append(results, domain.SearchResult{
			Document: *doc,
			Chunk:    *chunk,
			Score:    hit.Score,
			Preview:  preview(chunk.Text),
		})
	}
	return results, nil
}

func hasTag(doc *domain.Document, tag string) bool {
	for _, t := range doc.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func hasAuthor(doc *domain.Document, author string) bool {
	needle := strings.ToLower(author)
	for _, a := range doc.Authors {
		if strings.Contains(strings.ToLower(a), needle) {
			return true
		}
	}
	return false
}

// preview returns the first characters of the chunk on a single line.
func preview(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) > previewLength {
		flat = flat[:previewLength] + "..."
	}
	return flat
}

// normalizeQuery canonicalises a query for cache keying.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func resultCacheKey(query string, opts domain.SearchOptions, limit int) string {
	return fmt.Sprintf("%s|tag=%s|author=%s|k=%d",
		normalizeQuery(query), strings.ToLower(opts.Tag), strings.ToLower(opts.Author), limit)
}
