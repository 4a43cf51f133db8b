// Package ocr converts scanned PDFs to text via docconv, which shells
// out to the local pdftotext/tesseract toolchain.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/refrab/refrab/internal/core/ports/driven"
)

// Ensure Converter implements the interface.
var _ driven.Converter = (*Converter)(nil)

// Converter is the general-purpose OCR fallback for documents without a
// usable text layer.
type Converter struct{}

// New creates an OCR converter.
func New() *Converter {
	return &Converter{}
}

// Name returns the engine identifier.
func (c *Converter) Name() string {
	return driven.ConverterOCR
}

// Convert runs the document through docconv and returns the recognised
// text. Page counts are taken from converter metadata when reported.
func (c *Converter) Convert(ctx context.Context, data []byte, _ driven.ConvertOptions) (*driven.ConvertResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", true)
	if err != nil {
		return nil, fmt.Errorf("docconv: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("docconv: %s", res.Error)
	}

	return &driven.ConvertResult{
		Text:      strings.TrimSpace(res.Body),
		PageCount: pageCount(res.Meta),
		Confident: false,
	}, nil
}

func pageCount(meta map[string]string) int {
	for _, key := range []string{"PageCount", "Pages"} {
		if v, ok := meta[key]; ok {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}
