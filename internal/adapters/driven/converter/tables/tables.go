// Package tables detects tabular regions in a PDF text layer and emits
// them as plain-text blocks. Table rows shredded into prose confuse
// retrieval, so they are extracted separately and merged back by the
// dispatcher under a marker.
package tables

import (
	"context"
	"regexp"
	"strings"

	"github.com/refrab/refrab/internal/adapters/driven/converter/pdftext"
	"github.com/refrab/refrab/internal/core/ports/driven"
)

// Ensure Converter implements the interface.
var _ driven.Converter = (*Converter)(nil)

// minTableRows is the minimum consecutive aligned lines that count as a
// table. A single aligned line is usually a heading.
const minTableRows = 2

// Converter extracts table-like blocks from the PDF text layer.
type Converter struct {
	text driven.Converter
}

// New creates a table converter.
func New() *Converter {
	return &Converter{text: pdftext.New()}
}

// Name returns the engine identifier.
func (c *Converter) Name() string {
	return driven.ConverterTables
}

// Convert returns the detected table blocks separated by blank lines.
// No tables found is success with empty text.
func (c *Converter) Convert(ctx context.Context, data []byte, opts driven.ConvertOptions) (*driven.ConvertResult, error) {
	res, err := c.text.Convert(ctx, data, opts)
	if err != nil {
		return nil, err
	}

	blocks := detectTables(res.Text)
	return &driven.ConvertResult{
		Text:      strings.Join(blocks, "\n\n"),
		PageCount: res.PageCount,
		Confident: false,
	}, nil
}

// columnGapRe matches the column separators of a layouted table row:
// a tab or a run of two or more spaces.
var columnGapRe = regexp.MustCompile(`\t| {2,}`)

// detectTables groups consecutive multi-column lines into blocks.
func detectTables(text string) []string {
	var blocks []string
	var current []string

	flush := func() {
		if len(current) >= minTableRows {
			blocks = append(blocks, strings.Join(current, "\n"))
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if isTableRow(line) {
			current = append(current, strings.TrimRight(line, " \t"))
			continue
		}
		flush()
	}
	flush()

	return blocks
}

// isTableRow reports whether the line splits into at least three cells
// with non-empty content.
func isTableRow(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	cells := 0
	for _, cell := range columnGapRe.Split(strings.TrimSpace(line), -1) {
		if strings.TrimSpace(cell) != "" {
			cells++
		}
	}
	return cells >= 3
}
