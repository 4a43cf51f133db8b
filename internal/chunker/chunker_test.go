package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleText builds deterministic prose of at least n bytes with
// sentence and paragraph boundaries.
func sampleText(n int) string {
	var sb strings.Builder
	sentence := "The quick brown fox jumps over the lazy dog near the river bank. "
	for sb.Len() < n {
		for i := 0; i < 8 && sb.Len() < n; i++ {
			sb.WriteString(sentence)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestSplitCoversSourceWithExactOverlap(t *testing.T) {
	c := New()
	text := sampleText(50000)

	chunks := c.Split("doc-1", text)
	require.NotEmpty(t, chunks)

	// Medium documents stay below the adaptive threshold and use the
	// nominal chunk size.
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.End-chunk.Start, DefaultChunkSize)
		assert.Equal(t, text[chunk.Start:chunk.End], chunk.Text)
	}

	// First chunk starts at zero, last chunk ends at the text end.
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)

	// Adjacent chunks share exactly the overlap region.
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		assert.Equal(t, prev.End-DefaultOverlap, cur.Start, "chunk %d", i)
		assert.Equal(t, prev.Text[len(prev.Text)-DefaultOverlap:], cur.Text[:DefaultOverlap], "chunk %d", i)
	}
}

func TestSplitReconstructsSource(t *testing.T) {
	c := New()
	text := sampleText(20000)

	chunks := c.Split("doc-1", text)
	require.NotEmpty(t, chunks)

	var sb strings.Builder
	end := 0
	for _, chunk := range chunks {
		sb.WriteString(chunk.Text[end-chunk.Start:])
		end = chunk.End
	}
	assert.Equal(t, text, sb.String())
}

func TestSplitDeterministicIDs(t *testing.T) {
	c := New()
	text := sampleText(10000)

	first := c.Split("doc-1", text)
	second := c.Split("doc-1", text)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, i, first[i].Position)
	}

	// A different document yields different IDs for the same text.
	other := c.Split("doc-2", text)
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestSplitAdaptiveSizeForLargeDocuments(t *testing.T) {
	c := New()
	text := sampleText(800000)

	chunks := c.Split("doc-1", text)
	require.NotEmpty(t, chunks)

	// 800000/256 exceeds the maximum, so chunks grow to the clamp.
	maxLen := 0
	for _, chunk := range chunks {
		if l := chunk.End - chunk.Start; l > maxLen {
			maxLen = l
		}
		assert.LessOrEqual(t, chunk.End-chunk.Start, DefaultMaxChunkSize)
	}
	assert.Greater(t, maxLen, DefaultChunkSize)
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	c := New()
	para := strings.Repeat("word ", 150) // ~750 chars, above the minimum
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	chunks := c.Split("doc-1", text)
	require.Greater(t, len(chunks), 1)

	// The first cut lands right after a paragraph break, not mid-word.
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"))
}

func TestSplitDegenerateInputs(t *testing.T) {
	c := New()

	assert.Nil(t, c.Split("doc-1", ""))
	assert.Nil(t, c.Split("doc-1", "   \n\t  "))

	// Text shorter than one chunk yields a single chunk.
	chunks := c.Split("doc-1", "short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
}

func TestSplitMultibyteTextStaysValidUTF8(t *testing.T) {
	c := New()
	// No paragraph, newline or sentence boundaries anywhere: every cut is
	// a hard cut, which must never land inside a rune.
	text := "a" + strings.Repeat("日", 2000)

	chunks := c.Split("doc-1", text)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk.Text), "chunk %d [%d,%d) is not valid UTF-8", i, chunk.Start, chunk.End)
		assert.Equal(t, text[chunk.Start:chunk.End], chunk.Text)
	}
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
}

func TestSplitNormalisesCRLF(t *testing.T) {
	c := New()
	chunks := c.Split("doc-1", "line one\r\nline two")
	require.Len(t, chunks, 1)
	assert.Equal(t, "line one\nline two", chunks[0].Text)
}
