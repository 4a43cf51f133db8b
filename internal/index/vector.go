package index

import (
	"math"
	"sort"

	"github.com/refrab/refrab/internal/core/ports/driven"
)

// vectorEntry is one chunk's stored embedding.
type vectorEntry struct {
	documentID string
	vector     []float32
}

// vectorIndex is an in-memory brute-force cosine similarity index.
// Vectors are L2-normalised on insert so similarity is a dot product.
// It is not safe for concurrent use; the dual index serialises access.
type vectorIndex struct {
	entries map[string]*vectorEntry
	byDoc   map[string][]string
}

func newVectorIndex() *vectorIndex {
	return &vectorIndex{
		entries: make(map[string]*vectorEntry),
		byDoc:   make(map[string][]string),
	}
}

// normalize returns the L2-normalised copy of v, or nil for a zero vector.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// removeDocument drops all vectors for a document's chunks.
func (ix *vectorIndex) removeDocument(documentID string) {
	for _, chunkID := range ix.byDoc[documentID] {
		delete(ix.entries, chunkID)
	}
	delete(ix.byDoc, documentID)
}

// insert adds a normalised vector for a chunk.
func (ix *vectorIndex) insert(chunkID, documentID string, vector []float32) {
	ix.entries[chunkID] = &vectorEntry{documentID: documentID, vector: vector}
	ix.byDoc[documentID] = append(ix.byDoc[documentID], chunkID)
}

// search returns the top k chunks by cosine similarity to the query
// vector, ties broken by chunk ID for stable ordering.
func (ix *vectorIndex) search(query []float32, k int, filter driven.ChunkFilter) []driven.IndexHit {
	q := normalize(query)
	if q == nil || len(ix.entries) == 0 {
		return nil
	}

	hits := make([]driven.IndexHit, 0, len(ix.entries))
	for chunkID, entry := range ix.entries {
		if filter != nil && !filter(entry.documentID) {
			continue
		}
		hits = append(hits, driven.IndexHit{
			ChunkID:    chunkID,
			DocumentID: entry.documentID,
			Score:      dot(q, entry.vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
