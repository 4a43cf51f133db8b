package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/logger"
)

// Dispatcher defaults.
const (
	// DefaultMinCharsPerPage is the extraction density below which a text
	// layer is considered image-only. A scanned PDF can still contain a
	// few stray embedded glyphs; those must not count as success.
	DefaultMinCharsPerPage = 200

	// DefaultMinPrintableRatio rejects dense but garbage text layers.
	DefaultMinPrintableRatio = 0.85

	// DefaultConvertTimeout bounds each converter attempt.
	DefaultConvertTimeout = 2 * time.Minute
)

// tablesMarker introduces merged table blocks in the extracted text.
const tablesMarker = "[TABLES]"

// Dispatcher routes each document to the right extraction strategy.
//
// The policy is an ordered list of strategies with short-circuit on first
// success: fast local text-layer extraction, then math OCR for documents
// tagged scientific (local OCR otherwise). Table extraction always runs
// additionally and is never fatal.
type Dispatcher struct {
	pdftext driven.Converter
	ocr     driven.Converter
	mathOCR driven.Converter
	tables  driven.Converter

	minCharsPerPage   float64
	minPrintableRatio float64
	timeout           time.Duration
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMinCharsPerPage sets the text-layer density threshold.
func WithMinCharsPerPage(n float64) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.minCharsPerPage = n
		}
	}
}

// WithConvertTimeout sets the per-attempt timeout.
func WithConvertTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher over the available converters.
// Any converter may be nil; the corresponding strategy is then skipped
// with an unavailability cause.
func NewDispatcher(pdftext, ocr, mathOCR, tables driven.Converter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pdftext:           pdftext,
		ocr:               ocr,
		mathOCR:           mathOCR,
		tables:            tables,
		minCharsPerPage:   DefaultMinCharsPerPage,
		minPrintableRatio: DefaultMinPrintableRatio,
		timeout:           DefaultConvertTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch converts the document bytes to text. On success the result
// records which engine produced the text; on failure the returned
// *domain.DispatchFailure lists every attempted strategy with its cause.
func (d *Dispatcher) Dispatch(ctx context.Context, doc *domain.Document, data []byte) (*domain.ExtractedText, error) {
	var attempts []domain.ConvertAttempt

	// 1. Fast local text-layer extraction.
	result, cause := d.tryTextLayer(ctx, data)
	attempts = append(attempts, domain.ConvertAttempt{Engine: driven.ConverterPDFText, Err: cause})
	engine := driven.ConverterPDFText

	// 2. OCR fallback, routed by the scientific tag. Math OCR is an
	// optional capability; scientific documents use local OCR when it is
	// not configured instead of failing.
	if result == nil {
		conv := d.ocr
		engine = driven.ConverterOCR
		if doc.IsScientific() && d.mathOCR != nil {
			conv = d.mathOCR
			engine = driven.ConverterMathOCR
			logger.Debug("Dispatch %s: scientific tag routes to math OCR", doc.ID)
		}
		result, cause = d.attempt(ctx, conv, engine, data, doc)
		attempts = append(attempts, domain.ConvertAttempt{Engine: engine, Err: cause})
	}

	if result == nil {
		return nil, &domain.DispatchFailure{DocumentID: doc.ID, Attempts: attempts}
	}

	text := result.Text

	// 3. Table extraction is additive and non-fatal.
	if d.tables != nil {
		tctx, cancel := context.WithTimeout(ctx, d.timeout)
		tres, err := d.tables.Convert(tctx, data, driven.ConvertOptions{})
		cancel()
		switch {
		case err != nil:
			logger.Warn("Dispatch %s: table extraction failed: %v", doc.ID, err)
		case strings.TrimSpace(tres.Text) != "":
			text = text + "\n\n" + tablesMarker + "\n" + tres.Text
			logger.Debug("Dispatch %s: merged table blocks", doc.ID)
		}
	}

	var density float64
	if result.PageCount > 0 {
		density = float64(len(result.Text)) / float64(result.PageCount)
	}

	return &domain.ExtractedText{
		DocumentID:   doc.ID,
		Text:         text,
		Engine:       engine,
		Confident:    result.Confident,
		CharsPerPage: density,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// tryTextLayer runs local text extraction and applies the density and
// printability gates. Returns (nil, cause) when the layer is unusable.
func (d *Dispatcher) tryTextLayer(ctx context.Context, data []byte) (*driven.ConvertResult, error) {
	if d.pdftext == nil {
		return nil, domain.ErrConverterUnavailable
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.pdftext.Convert(cctx, data, driven.ConvertOptions{})
	if err != nil {
		return nil, err
	}

	if result.PageCount > 0 {
		density := float64(len(result.Text)) / float64(result.PageCount)
		if density < d.minCharsPerPage {
			return nil, fmt.Errorf("text layer too sparse: %.0f chars/page (minimum %.0f)",
				density, d.minCharsPerPage)
		}
	} else if strings.TrimSpace(result.Text) == "" {
		return nil, errors.New("text layer empty")
	}

	if ratio := printableRatio(result.Text); ratio < d.minPrintableRatio {
		return nil, fmt.Errorf("text layer unprintable: ratio %.2f (minimum %.2f)",
			ratio, d.minPrintableRatio)
	}

	return result, nil
}

// attempt runs one converter with the per-attempt timeout.
func (d *Dispatcher) attempt(ctx context.Context, conv driven.Converter, engine string, data []byte, doc *domain.Document) (*driven.ConvertResult, error) {
	if conv == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConverterUnavailable, engine)
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := conv.Convert(cctx, data, driven.ConvertOptions{})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, fmt.Errorf("%s produced no text for %s", engine, doc.ID)
	}
	return result, nil
}
