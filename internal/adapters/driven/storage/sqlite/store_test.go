package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refrab/refrab/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDocumentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := domain.Document{
		ID:      "ABCD1234",
		Title:   "On Adaptive Quadrature",
		Authors: []string{"Ada Lovelace", "Charles Babbage"},
		Year:    1843,
		Tags:    []string{"/processed", "#math_heavy"},
		AddedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveDocument(ctx, &doc))

	got, err := store.GetDocument(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Authors, got.Authors)
	assert.Equal(t, doc.Year, got.Year)
	assert.Equal(t, doc.Tags, got.Tags)
	assert.True(t, doc.AddedAt.Equal(got.AddedAt))

	// Saving again updates in place.
	doc.Title = "Updated Title"
	require.NoError(t, store.SaveDocument(ctx, &doc))
	got, err = store.GetDocument(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, "Updated Title", got.Title)

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestGetDocumentNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExtractedTextSupersedes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := domain.Document{ID: "doc-1", Title: "T"}
	require.NoError(t, store.SaveDocument(ctx, &doc))

	require.NoError(t, store.SaveExtractedText(ctx, &domain.ExtractedText{
		DocumentID: "doc-1", Text: "first pass", Engine: "pdftext",
	}))
	require.NoError(t, store.SaveExtractedText(ctx, &domain.ExtractedText{
		DocumentID: "doc-1", Text: "second pass", Engine: "ocr", CharsPerPage: 512,
	}))

	et, err := store.GetExtractedText(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "second pass", et.Text)
	assert.Equal(t, "ocr", et.Engine)
	assert.Equal(t, 512.0, et.CharsPerPage)
}

func TestReplaceChunksAndLoadAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"doc-a", "doc-b"} {
		doc := domain.Document{ID: id, Title: id}
		require.NoError(t, store.SaveDocument(ctx, &doc))
	}

	chunksA := []domain.Chunk{
		{ID: "a0", DocumentID: "doc-a", Position: 0, Start: 0, End: 5, Text: "first"},
		{ID: "a1", DocumentID: "doc-a", Position: 1, Start: 3, End: 9, Text: "second"},
	}
	embA := [][]float32{{1, 2}, {3, 4}}
	require.NoError(t, store.ReplaceChunks(ctx, "doc-a", chunksA, embA))

	chunksB := []domain.Chunk{{ID: "b0", DocumentID: "doc-b", Position: 0, Text: "other"}}
	require.NoError(t, store.ReplaceChunks(ctx, "doc-b", chunksB, [][]float32{{5, 6}}))

	// Replacement removes the old set entirely.
	replacement := []domain.Chunk{{ID: "a2", DocumentID: "doc-a", Position: 0, Text: "replacement"}}
	require.NoError(t, store.ReplaceChunks(ctx, "doc-a", replacement, [][]float32{{7, 8}}))

	_, err := store.GetChunk(ctx, "a0")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	chunk, err := store.GetChunk(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "replacement", chunk.Text)

	// LoadAllChunks streams in (document, position) order with embeddings.
	var ids []string
	var embeddings [][]float32
	err = store.LoadAllChunks(ctx, func(c domain.Chunk, emb []float32) error {
		ids = append(ids, c.ID)
		embeddings = append(embeddings, emb)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "b0"}, ids)
	assert.Equal(t, [][]float32{{7, 8}, {5, 6}}, embeddings)
}

func TestReplaceChunksLengthMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := domain.Document{ID: "doc-a"}
	require.NoError(t, store.SaveDocument(ctx, &doc))

	err := store.ReplaceChunks(ctx, "doc-a",
		[]domain.Chunk{{ID: "a0", DocumentID: "doc-a"}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRecordError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := domain.Document{ID: "doc-a", Title: "T"}
	require.NoError(t, store.SaveDocument(ctx, &doc))
	require.NoError(t, store.RecordError(ctx, "doc-a", "conversion failed"))

	got, err := store.GetDocument(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, "conversion failed", got.LastError)

	// Unknown documents still get their failure recorded.
	require.NoError(t, store.RecordError(ctx, "doc-x", "fetch failed"))
	got, err = store.GetDocument(ctx, "doc-x")
	require.NoError(t, err)
	assert.Equal(t, "fetch failed", got.LastError)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening the same database must not re-run applied migrations.
	store, err = NewStore(dir)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
