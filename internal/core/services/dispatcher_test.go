package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
)

// stubConverter is a scripted converter for dispatcher tests.
type stubConverter struct {
	name   string
	result *driven.ConvertResult
	err    error
	calls  int
}

func (c *stubConverter) Name() string { return c.name }

func (c *stubConverter) Convert(_ context.Context, _ []byte, _ driven.ConvertOptions) (*driven.ConvertResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func denseResult() *driven.ConvertResult {
	return &driven.ConvertResult{
		Text:      strings.Repeat("Readable sentence with actual words. ", 20),
		PageCount: 2,
		Confident: true,
	}
}

func TestDispatchUsesTextLayerWhenDense(t *testing.T) {
	pdftext := &stubConverter{name: driven.ConverterPDFText, result: denseResult()}
	ocr := &stubConverter{name: driven.ConverterOCR, result: denseResult()}
	d := NewDispatcher(pdftext, ocr, nil, nil)

	doc := &domain.Document{ID: "doc-1"}
	et, err := d.Dispatch(context.Background(), doc, []byte("pdf"))
	require.NoError(t, err)

	assert.Equal(t, driven.ConverterPDFText, et.Engine)
	assert.Equal(t, 0, ocr.calls, "OCR must not run when the text layer is usable")
	assert.Greater(t, et.CharsPerPage, float64(DefaultMinCharsPerPage))
}

func TestDispatchFallsBackToOCRWhenSparse(t *testing.T) {
	// A scanned PDF with a few stray glyphs: dense enough to return text
	// but far below the chars-per-page gate.
	pdftext := &stubConverter{name: driven.ConverterPDFText, result: &driven.ConvertResult{
		Text:      "x y z",
		PageCount: 10,
	}}
	ocr := &stubConverter{name: driven.ConverterOCR, result: denseResult()}
	d := NewDispatcher(pdftext, ocr, nil, nil)

	doc := &domain.Document{ID: "doc-1"}
	et, err := d.Dispatch(context.Background(), doc, []byte("pdf"))
	require.NoError(t, err)

	assert.Equal(t, driven.ConverterOCR, et.Engine)
	assert.Equal(t, 1, ocr.calls)
}

func TestDispatchRejectsGarbageTextLayer(t *testing.T) {
	// Dense but unprintable: private-use runes from a broken font map.
	pdftext := &stubConverter{name: driven.ConverterPDFText, result: &driven.ConvertResult{
		Text:      strings.Repeat("", 300),
		PageCount: 1,
	}}
	ocr := &stubConverter{name: driven.ConverterOCR, result: denseResult()}
	d := NewDispatcher(pdftext, ocr, nil, nil)

	et, err := d.Dispatch(context.Background(), &domain.Document{ID: "doc-1"}, []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, driven.ConverterOCR, et.Engine)
}

func TestDispatchRoutesScientificToMathOCR(t *testing.T) {
	pdftext := &stubConverter{name: driven.ConverterPDFText, err: errors.New("no text layer")}
	ocr := &stubConverter{name: driven.ConverterOCR, result: denseResult()}
	mathOCR := &stubConverter{name: driven.ConverterMathOCR, result: denseResult()}
	d := NewDispatcher(pdftext, ocr, mathOCR, nil)

	doc := &domain.Document{ID: "doc-1", Tags: []string{"#scientific"}}
	et, err := d.Dispatch(context.Background(), doc, []byte("pdf"))
	require.NoError(t, err)

	assert.Equal(t, driven.ConverterMathOCR, et.Engine)
	assert.Equal(t, 1, mathOCR.calls)
	assert.Equal(t, 0, ocr.calls)
}

func TestDispatchScientificWithoutMathOCRUsesLocalOCR(t *testing.T) {
	// A scientific document with a sparse text layer must still be
	// convertible when no math OCR capability is configured.
	pdftext := &stubConverter{name: driven.ConverterPDFText, result: &driven.ConvertResult{
		Text:      "x y z",
		PageCount: 10,
	}}
	ocr := &stubConverter{name: driven.ConverterOCR, result: denseResult()}
	d := NewDispatcher(pdftext, ocr, nil, nil)

	doc := &domain.Document{ID: "doc-sci", Tags: []string{"#scientific"}}
	et, err := d.Dispatch(context.Background(), doc, []byte("pdf"))
	require.NoError(t, err)

	assert.Equal(t, driven.ConverterOCR, et.Engine)
	assert.Equal(t, 1, ocr.calls)
}

func TestDispatchMergesTables(t *testing.T) {
	pdftext := &stubConverter{name: driven.ConverterPDFText, result: denseResult()}
	tables := &stubConverter{name: driven.ConverterTables, result: &driven.ConvertResult{
		Text: "col1\tcol2\tcol3\n1\t2\t3",
	}}
	d := NewDispatcher(pdftext, nil, nil, tables)

	et, err := d.Dispatch(context.Background(), &domain.Document{ID: "doc-1"}, []byte("pdf"))
	require.NoError(t, err)

	assert.Contains(t, et.Text, tablesMarker)
	assert.Contains(t, et.Text, "col1\tcol2\tcol3")
}

func TestDispatchTableFailureIsNonFatal(t *testing.T) {
	pdftext := &stubConverter{name: driven.ConverterPDFText, result: denseResult()}
	tables := &stubConverter{name: driven.ConverterTables, err: errors.New("tables broke")}
	d := NewDispatcher(pdftext, nil, nil, tables)

	et, err := d.Dispatch(context.Background(), &domain.Document{ID: "doc-1"}, []byte("pdf"))
	require.NoError(t, err)

	assert.Equal(t, driven.ConverterPDFText, et.Engine)
	assert.NotContains(t, et.Text, tablesMarker)
}

func TestDispatchFailureListsAllAttempts(t *testing.T) {
	pdftext := &stubConverter{name: driven.ConverterPDFText, err: errors.New("no text layer")}
	ocr := &stubConverter{name: driven.ConverterOCR, err: errors.New("ocr crashed")}
	d := NewDispatcher(pdftext, ocr, nil, nil)

	_, err := d.Dispatch(context.Background(), &domain.Document{ID: "doc-1"}, []byte("pdf"))

	var failure *domain.DispatchFailure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Attempts, 2)
	assert.Equal(t, driven.ConverterPDFText, failure.Attempts[0].Engine)
	assert.Equal(t, driven.ConverterOCR, failure.Attempts[1].Engine)
}

func TestDispatchMissingConvertersReportUnavailable(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)

	_, err := d.Dispatch(context.Background(), &domain.Document{ID: "doc-1"}, []byte("pdf"))

	var failure *domain.DispatchFailure
	require.ErrorAs(t, err, &failure)
	for _, attempt := range failure.Attempts {
		assert.ErrorIs(t, attempt.Err, domain.ErrConverterUnavailable)
	}
}
