package index

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/refrab/refrab/internal/core/ports/driven"
)

// BM25 parameters. k1 controls term-frequency saturation, b controls
// document-length normalisation.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// tokenize lowercases and splits text into unicode letter/digit runs.
func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// lexicalEntry is one chunk's contribution to the lexical index.
type lexicalEntry struct {
	documentID string
	termFreq   map[string]int
	length     int
}

// lexicalIndex is an in-memory inverted index with BM25 scoring.
// It is not safe for concurrent use; the dual index serialises access.
type lexicalIndex struct {
	// entries maps chunk ID to its term statistics.
	entries map[string]*lexicalEntry

	// postings maps term to the set of chunk IDs containing it.
	postings map[string]map[string]struct{}

	// byDoc maps document ID to its chunk IDs, for atomic replacement.
	byDoc map[string][]string

	totalLength int
}

func newLexicalIndex() *lexicalIndex {
	return &lexicalIndex{
		entries:  make(map[string]*lexicalEntry),
		postings: make(map[string]map[string]struct{}),
		byDoc:    make(map[string][]string),
	}
}

// buildEntry precomputes term statistics for a chunk text. Pure function,
// safe to run outside the index lock.
func buildEntry(documentID, text string) *lexicalEntry {
	tokens := tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return &lexicalEntry{
		documentID: documentID,
		termFreq:   tf,
		length:     len(tokens),
	}
}

// removeDocument drops all postings for a document's chunks.
func (ix *lexicalIndex) removeDocument(documentID string) {
	for _, chunkID := range ix.byDoc[documentID] {
		entry, ok := ix.entries[chunkID]
		if !ok {
			continue
		}
		for term := range entry.termFreq {
			if set, ok := ix.postings[term]; ok {
				delete(set, chunkID)
				if len(set) == 0 {
					delete(ix.postings, term)
				}
			}
		}
		ix.totalLength -= entry.length
		delete(ix.entries, chunkID)
	}
	delete(ix.byDoc, documentID)
}

// insert adds a prebuilt entry for a chunk.
func (ix *lexicalIndex) insert(chunkID string, entry *lexicalEntry) {
	ix.entries[chunkID] = entry
	ix.byDoc[entry.documentID] = append(ix.byDoc[entry.documentID], chunkID)
	ix.totalLength += entry.length
	for term := range entry.termFreq {
		set, ok := ix.postings[term]
		if !ok {
			set = make(map[string]struct{})
			ix.postings[term] = set
		}
		set[chunkID] = struct{}{}
	}
}

// search scores all candidate chunks against the query with BM25 and
// returns the top k, ties broken by chunk ID so the order is stable.
func (ix *lexicalIndex) search(query string, k int, filter driven.ChunkFilter) []driven.IndexHit {
	terms := tokenize(query)
	if len(terms) == 0 || len(ix.entries) == 0 {
		return nil
	}

	n := float64(len(ix.entries))
	avgLen := ix.totalLength / len(ix.entries)
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		set, ok := ix.postings[term]
		if !ok {
			continue
		}
		df := float64(len(set))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for chunkID := range set {
			entry := ix.entries[chunkID]
			if filter != nil && !filter(entry.documentID) {
				continue
			}
			tf := float64(entry.termFreq[term])
			norm := 1 - bm25B + bm25B*float64(entry.length)/float64(avgLen)
			scores[chunkID] += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
	}

	hits := make([]driven.IndexHit, 0, len(scores))
	for chunkID, score := range scores {
		hits = append(hits, driven.IndexHit{
			ChunkID:    chunkID,
			DocumentID: ix.entries[chunkID].documentID,
			Score:      score,
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
