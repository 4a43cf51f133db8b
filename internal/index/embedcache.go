package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/logger"
)

// DefaultEmbedCacheSize bounds the embedding cache.
const DefaultEmbedCacheSize = 4096

// Ensure CachingEmbedder implements the interface.
var _ driven.EmbeddingService = (*CachingEmbedder)(nil)

// CachingEmbedder memoises embedding calls, keyed by the exact text
// content. Identical chunk text across documents reuses one embedding,
// saving inference cost; the same cache serves query embeddings.
type CachingEmbedder struct {
	inner driven.EmbeddingService
	cache *LRU[[]float32]
}

// NewCachingEmbedder wraps an embedding service with a content-addressed
// LRU cache of the given size.
func NewCachingEmbedder(inner driven.EmbeddingService, size int) *CachingEmbedder {
	if size <= 0 {
		size = DefaultEmbedCacheSize
	}
	return &CachingEmbedder{
		inner: inner,
		cache: NewLRU[[]float32](size),
	}
}

// Embed returns the cached embedding for the text, calling the inner
// service only on a miss.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentKey(text)
	if vec, ok := e.cache.Get(key); ok {
		logger.Debug("Embedding cache hit (%d cached)", e.cache.Len())
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Put(key, vec)
	return vec, nil
}

// EmbedBatch embeds multiple texts, serving cached entries and calling the
// inner service only for the misses.
func (e *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, t := range texts {
		if vec, ok := e.cache.Get(contentKey(t)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		e.cache.Put(contentKey(texts[i]), vecs[j])
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *CachingEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close releases resources of the inner service.
func (e *CachingEmbedder) Close() error {
	return e.inner.Close()
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
