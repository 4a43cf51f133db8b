package driven

import "context"

// Converter names used for routing and provenance.
const (
	ConverterPDFText = "pdftext"
	ConverterOCR     = "ocr"
	ConverterMathOCR = "mathocr"
	ConverterTables  = "tables"
)

// ConvertOptions tunes a single conversion call.
type ConvertOptions struct {
	// Languages are OCR language hints (e.g. "eng", "deu").
	Languages []string
}

// ConvertResult is the output of one converter.
type ConvertResult struct {
	// Text is the extracted plain text.
	Text string

	// PageCount is the number of pages seen, zero when unknown.
	PageCount int

	// Confident is false when the converter produced text but considers
	// it low quality.
	Confident bool
}

// Converter turns raw document bytes into text. All extraction backends
// (local text layer, local OCR, cloud math OCR, table extraction) expose
// this single capability and are treated uniformly by the dispatcher.
type Converter interface {
	// Name returns the converter identifier used in provenance records.
	Name() string

	// Convert extracts text from the document bytes.
	Convert(ctx context.Context, data []byte, opts ConvertOptions) (*ConvertResult, error)
}
