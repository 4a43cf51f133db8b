// Package index provides the dual lexical/vector retrieval index over
// chunks, plus the embedding and query caches in front of it.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/logger"
)

// DefaultHybridWeight is the lexical share of the fused score.
// The fusion formula is configurable because no single weighting is
// universally right; 0.5 treats both signals equally.
const DefaultHybridWeight = 0.5

// Ensure Dual implements the interface.
var _ driven.RetrievalIndex = (*Dual)(nil)

// Dual maintains the lexical and vector indexes over chunks with a
// single-writer discipline: concurrent reads are allowed, writes swap a
// document's entries in both indexes under one lock so readers never see
// one index updated without the other.
type Dual struct {
	embedder driven.EmbeddingService
	weight   float64

	mu  sync.RWMutex
	lex *lexicalIndex
	vec *vectorIndex

	// seq records the upsert order per document for recency tie-breaks.
	seq     map[string]uint64
	nextSeq uint64

	// inflight guards against two concurrent upserts for one document.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures the dual index.
type Option func(*Dual)

// WithHybridWeight sets the lexical weight w of the fused score
// w*lexical + (1-w)*vector. Values outside [0,1] are clamped.
func WithHybridWeight(w float64) Option {
	return func(d *Dual) {
		if w < 0 {
			w = 0
		}
		if w > 1 {
			w = 1
		}
		d.weight = w
	}
}

// NewDual creates the dual index. The embedder may be nil, in which case
// vector and hybrid queries degrade to lexical-only results.
func NewDual(embedder driven.EmbeddingService, opts ...Option) *Dual {
	d := &Dual{
		embedder: embedder,
		weight:   DefaultHybridWeight,
		lex:      newLexicalIndex(),
		vec:      newVectorIndex(),
		seq:      make(map[string]uint64),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Upsert replaces the document's entries in both indexes. The new state is
// built fully before the swap; on any validation error the prior entries
// remain visible untouched.
func (d *Dual) Upsert(_ context.Context, documentID string, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return &domain.IndexWriteFailure{
			DocumentID: documentID,
			Cause:      fmt.Errorf("%d chunks but %d embeddings", len(chunks), len(embeddings)),
		}
	}

	d.inflightMu.Lock()
	if _, busy := d.inflight[documentID]; busy {
		d.inflightMu.Unlock()
		return domain.ErrIndexBusy
	}
	d.inflight[documentID] = struct{}{}
	d.inflightMu.Unlock()

	defer func() {
		d.inflightMu.Lock()
		delete(d.inflight, documentID)
		d.inflightMu.Unlock()
	}()

	// Build the replacement state outside the lock.
	lexEntries := make([]*lexicalEntry, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		if chunk.DocumentID != documentID {
			return &domain.IndexWriteFailure{
				DocumentID: documentID,
				Cause:      fmt.Errorf("chunk %s belongs to document %s", chunk.ID, chunk.DocumentID),
			}
		}
		v := normalize(embeddings[i])
		if v == nil {
			return &domain.IndexWriteFailure{
				DocumentID: documentID,
				Cause:      fmt.Errorf("zero embedding for chunk %s", chunk.ID),
			}
		}
		lexEntries[i] = buildEntry(documentID, chunk.Text)
		vectors[i] = v
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.lex.removeDocument(documentID)
	d.vec.removeDocument(documentID)
	for i, chunk := range chunks {
		d.lex.insert(chunk.ID, lexEntries[i])
		d.vec.insert(chunk.ID, documentID, vectors[i])
	}
	d.nextSeq++
	d.seq[documentID] = d.nextSeq

	logger.Debug("Index upsert: %s with %d chunks", documentID, len(chunks))
	return nil
}

// QueryLexical returns the top-k chunks by BM25 relevance.
func (d *Dual) QueryLexical(_ context.Context, text string, k int, filter driven.ChunkFilter) ([]driven.IndexHit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lex.search(text, k, filter), nil
}

// QueryVector embeds the query and returns the top-k chunks by cosine
// similarity.
func (d *Dual) QueryVector(ctx context.Context, text string, k int, filter driven.ChunkFilter) ([]driven.IndexHit, error) {
	if d.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vec.search(vec, k, filter), nil
}

// QueryHybrid merges lexical and vector hits, deduplicated by chunk ID and
// re-ranked by the weighted sum of min-max normalised scores. Ties break
// by document recency (most recently indexed first) then chunk ID.
func (d *Dual) QueryHybrid(ctx context.Context, text string, k int, filter driven.ChunkFilter) ([]driven.IndexHit, error) {
	lexHits, err := d.QueryLexical(ctx, text, k, filter)
	if err != nil {
		return nil, err
	}

	vecHits, err := d.QueryVector(ctx, text, k, filter)
	if err != nil {
		// Vector side failing degrades to lexical-only rather than
		// failing the whole query.
		logger.Warn("Hybrid query: vector side unavailable: %v", err)
		if len(lexHits) > k && k > 0 {
			lexHits = lexHits[:k]
		}
		return lexHits, nil
	}

	merged := d.fuse(lexHits, vecHits)
	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// fuse combines two ranked lists into one deterministic order.
func (d *Dual) fuse(lexHits, vecHits []driven.IndexHit) []driven.IndexHit {
	lexNorm := normalizeScores(lexHits)
	vecNorm := normalizeScores(vecHits)

	docOf := make(map[string]string)
	fused := make(map[string]float64)
	for _, h := range lexHits {
		fused[h.ChunkID] += d.weight * lexNorm[h.ChunkID]
		docOf[h.ChunkID] = h.DocumentID
	}
	for _, h := range vecHits {
		fused[h.ChunkID] += (1 - d.weight) * vecNorm[h.ChunkID]
		docOf[h.ChunkID] = h.DocumentID
	}

	d.mu.RLock()
	seq := make(map[string]uint64, len(docOf))
	for _, docID := range docOf {
		seq[docID] = d.seq[docID]
	}
	d.mu.RUnlock()

	out := make([]driven.IndexHit, 0, len(fused))
	for chunkID, score := range fused {
		out = append(out, driven.IndexHit{
			ChunkID:    chunkID,
			DocumentID: docOf[chunkID],
			Score:      score,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if si, sj := seq[out[i].DocumentID], seq[out[j].DocumentID]; si != sj {
			return si > sj
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// normalizeScores min-max normalises a hit list into [0,1].
func normalizeScores(hits []driven.IndexHit) map[string]float64 {
	norm := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return norm
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	for _, h := range hits {
		if max == min {
			norm[h.ChunkID] = 1
			continue
		}
		norm[h.ChunkID] = (h.Score - min) / (max - min)
	}
	return norm
}
