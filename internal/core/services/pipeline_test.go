package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refrab/refrab/internal/adapters/driven/storage/memory"
	"github.com/refrab/refrab/internal/chunker"
	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/index"
)

// echoConverter returns the attachment bytes as text, failing for
// attachments marked bad.
type echoConverter struct {
	name string
}

func (c *echoConverter) Name() string { return c.name }

func (c *echoConverter) Convert(_ context.Context, data []byte, _ driven.ConvertOptions) (*driven.ConvertResult, error) {
	if bytes.HasPrefix(data, []byte("BAD")) {
		return nil, errors.New("unreadable attachment")
	}
	return &driven.ConvertResult{Text: string(data), PageCount: 1, Confident: true}, nil
}

// fixedEmbedder produces nonzero vectors, optionally failing.
type fixedEmbedder struct {
	err error
}

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)%7 + 1), 1}, nil
}

func (e *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *fixedEmbedder) Dimensions() int { return 2 }
func (e *fixedEmbedder) Close() error    { return nil }

func goodAttachment() []byte {
	return []byte(strings.Repeat("A readable page of extracted text. ", 30))
}

func newTestPipeline(lib *memory.Library, embedder driven.EmbeddingService) (*Pipeline, *memory.DocumentStore, *index.Dual) {
	store := memory.NewDocumentStore()
	idx := index.NewDual(embedder)
	dispatcher := NewDispatcher(&echoConverter{name: driven.ConverterPDFText}, nil, nil, nil)
	p := NewPipeline(
		NewDocumentQueue(lib),
		lib,
		dispatcher,
		chunker.New(),
		store,
		embedder,
		idx,
		WithConvertWorkers(1),
	)
	return p, store, idx
}

func TestProcessPendingHappyPath(t *testing.T) {
	lib := memory.NewLibrary()
	lib.AddItem(domain.Document{ID: "a", Title: "Paper A", Tags: []string{domain.TagToProcess}}, goodAttachment())

	p, store, idx := newTestPipeline(lib, &fixedEmbedder{})

	summary, err := p.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, 0, summary.Failed())

	out := summary.Outcomes[0]
	assert.Equal(t, domain.StateProcessed, out.State)
	assert.Equal(t, driven.ConverterPDFText, out.Engine)
	assert.Greater(t, out.Chunks, 0)

	// The library tag advanced.
	item, err := lib.GetItem(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StateProcessed, item.Status())

	// Text and chunks are persisted.
	et, err := store.GetExtractedText(context.Background(), "a")
	require.NoError(t, err)
	assert.NotEmpty(t, et.Text)

	// The chunks are searchable.
	hits, err := idx.QueryLexical(context.Background(), "readable page extracted", 5, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestProcessPendingIsolatesFailures(t *testing.T) {
	lib := memory.NewLibrary()
	lib.AddItem(domain.Document{ID: "bad", Tags: []string{domain.TagToProcess}}, []byte("BAD attachment"))
	lib.AddItem(domain.Document{ID: "good", Tags: []string{domain.TagToProcess}}, goodAttachment())

	p, _, _ := newTestPipeline(lib, &fixedEmbedder{})

	summary, err := p.ProcessPending(context.Background())
	require.NoError(t, err, "one bad document must not fail the run")
	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, 1, summary.Failed())

	badItem, err := lib.GetItem(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, domain.StateError, badItem.Status())

	goodItem, err := lib.GetItem(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, domain.StateProcessed, goodItem.Status())
}

func TestProcessPendingRetriesStuckDocuments(t *testing.T) {
	lib := memory.NewLibrary()
	// Left behind by an interrupted run: already tagged processing.
	lib.AddItem(domain.Document{ID: "stuck", Tags: []string{domain.TagProcessing}}, goodAttachment())

	p, _, _ := newTestPipeline(lib, &fixedEmbedder{})

	summary, err := p.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, domain.StateProcessed, summary.Outcomes[0].State)

	item, err := lib.GetItem(context.Background(), "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.StateProcessed, item.Status())
}

func TestProcessPendingEmbedFailureStaysProcessing(t *testing.T) {
	lib := memory.NewLibrary()
	lib.AddItem(domain.Document{ID: "a", Tags: []string{domain.TagToProcess}}, goodAttachment())

	p, _, _ := newTestPipeline(lib, &fixedEmbedder{err: errors.New("ollama down")})

	summary, err := p.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)

	out := summary.Outcomes[0]
	assert.Equal(t, domain.StateProcessing, out.State)
	var iwf *domain.IndexWriteFailure
	assert.ErrorAs(t, out.Err, &iwf)

	// A stalled document still counts against full success.
	assert.Equal(t, 1, summary.Failed())

	// The document is neither processed nor error; the next run picks
	// it up again from processing.
	item, err := lib.GetItem(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StateProcessing, item.Status())
}

func TestQueueStatusCounts(t *testing.T) {
	lib := memory.NewLibrary()
	lib.AddItem(domain.Document{ID: "a", Tags: []string{domain.TagToProcess}}, nil)
	lib.AddItem(domain.Document{ID: "b", Tags: []string{domain.TagProcessing}}, nil)
	lib.AddItem(domain.Document{ID: "c", Tags: []string{domain.TagProcessed}}, nil)
	lib.AddItem(domain.Document{ID: "d", Tags: []string{domain.TagError}}, nil)

	p, _, _ := newTestPipeline(lib, &fixedEmbedder{})

	counts, err := p.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
	assert.Equal(t, 1, counts.Processing)
	assert.Equal(t, 1, counts.Processed)
	assert.Equal(t, 1, counts.Error)
	require.Len(t, counts.Stuck, 1)
	assert.Equal(t, "b", counts.Stuck[0].ID)
}
