// Package chunker splits extracted text into overlapping retrieval units
// with adaptive sizing.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/refrab/refrab/internal/core/domain"
)

// Default configuration values.
const (
	DefaultChunkSize         = 1200
	DefaultOverlap           = 200
	DefaultMinChunkSize      = 400
	DefaultMaxChunkSize      = 2400
	DefaultLargeDocThreshold = 60000
	DefaultTargetChunkCount  = 256
)

// chunkNamespace makes chunk IDs deterministic: the same document and
// position always produce the same ID, so reprocessing unchanged text
// yields a byte-identical chunk set.
var chunkNamespace = uuid.MustParse("8b1f7f23-95a9-4d8e-bb1d-16c0a9d0f3a1")

// Chunker creates overlapping text chunks with adaptive window sizes.
// For very large documents the chunk size is scaled up towards a target
// chunk count instead of producing thousands of tiny chunks.
type Chunker struct {
	chunkSize         int
	overlap           int
	minChunkSize      int
	maxChunkSize      int
	largeDocThreshold int
	targetChunkCount  int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the nominal chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between adjacent chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinChunkSize sets the lower clamp for adaptive sizing and the
// boundary look-back window.
func WithMinChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.minChunkSize = size
		}
	}
}

// WithMaxChunkSize sets the upper clamp for adaptive sizing.
func WithMaxChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.maxChunkSize = size
		}
	}
}

// WithLargeDocThreshold sets the document length at which adaptive sizing
// kicks in.
func WithLargeDocThreshold(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.largeDocThreshold = n
		}
	}
}

// WithTargetChunkCount sets the chunk count adaptive sizing aims for on
// large documents.
func WithTargetChunkCount(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.targetChunkCount = n
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:         DefaultChunkSize,
		overlap:           DefaultOverlap,
		minChunkSize:      DefaultMinChunkSize,
		maxChunkSize:      DefaultMaxChunkSize,
		largeDocThreshold: DefaultLargeDocThreshold,
		targetChunkCount:  DefaultTargetChunkCount,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxChunkSize < c.chunkSize {
		c.maxChunkSize = c.chunkSize
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split chunks the text for a document. The returned chunks carry exact
// byte spans into the CRLF-normalised text: adjacent chunks share exactly
// the overlap region verbatim, and concatenating chunk texts while
// stripping the overlap reproduces the source. Empty or whitespace-only
// input produces zero chunks.
func (c *Chunker) Split(documentID, text string) []domain.Chunk {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	length := len(normalized)
	size := c.adaptiveSize(length)
	overlap := c.overlap
	if max := size / 3; overlap > max {
		overlap = max
	}

	var chunks []domain.Chunk
	start := 0
	position := 0

	for start < length {
		windowEnd := start + size
		if windowEnd > length {
			windowEnd = length
		}
		end := c.splitPoint(normalized, start, windowEnd)

		chunks = append(chunks, domain.Chunk{
			ID:         chunkID(documentID, position),
			DocumentID: documentID,
			Position:   position,
			Start:      start,
			End:        end,
			Text:       normalized[start:end],
		})
		position++

		if end >= length {
			break
		}
		next := runeStart(normalized, end-overlap)
		if next <= start {
			// Overlap would stall the scan; give up the overlap for this
			// boundary rather than loop forever.
			next = end
		}
		start = next
	}

	return chunks
}

// adaptiveSize scales the chunk size towards the target count for large
// documents, clamped between the nominal and maximum sizes.
func (c *Chunker) adaptiveSize(docLen int) int {
	if docLen < c.largeDocThreshold {
		return c.chunkSize
	}
	suggested := docLen / c.targetChunkCount
	if suggested < c.chunkSize {
		suggested = c.chunkSize
	}
	if suggested > c.maxChunkSize {
		suggested = c.maxChunkSize
	}
	return suggested
}

// boundaries in preference order: paragraph break, line break, sentence end.
var boundaries = []string{"\n\n", "\n", ". "}

// splitPoint finds the best cut inside (start, windowEnd], preferring
// natural boundaries whose position keeps the chunk above the minimum
// size. Falls back to a hard cut at the window end.
func (c *Chunker) splitPoint(text string, start, windowEnd int) int {
	if windowEnd >= len(text) {
		return len(text)
	}
	for _, b := range boundaries {
		pos := strings.LastIndex(text[start:windowEnd], b)
		if pos == -1 {
			continue
		}
		if pos < c.minChunkSize {
			continue
		}
		return start + pos + len(b)
	}
	// Hard cut: back off to a rune boundary so boundary-free multi-byte
	// text is never split mid-rune.
	return runeStart(text, windowEnd)
}

// runeStart backs i off to the start of the rune containing it.
func runeStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func chunkID(documentID string, position int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", documentID, position))).String()
}
