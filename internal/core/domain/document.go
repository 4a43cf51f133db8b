package domain

import (
	"strings"
	"time"
)

// State is the processing state of a document, derived from library tags.
type State string

const (
	// StatePending marks a document waiting to be processed.
	StatePending State = "pending"

	// StateProcessing marks a document currently being processed.
	StateProcessing State = "processing"

	// StateProcessed marks a document that was ingested successfully.
	StateProcessed State = "processed"

	// StateError marks a document whose processing failed. Error is terminal
	// until the item is re-tagged in the library.
	StateError State = "error"

	// StateUnknown means no state tag is present on the item.
	StateUnknown State = "unknown"
)

// Library tags that encode the processing state. The reference manager owns
// the tag store; this system is the only writer of these four tags.
const (
	TagToProcess  = "/to_process"
	TagProcessing = "/processing"
	TagProcessed  = "/processed"
	TagError      = "/error"
)

// StateTag returns the library tag that encodes the given state.
func StateTag(s State) string {
	switch s {
	case StatePending:
		return TagToProcess
	case StateProcessing:
		return TagProcessing
	case StateProcessed:
		return TagProcessed
	case StateError:
		return TagError
	default:
		return ""
	}
}

// scientificTags route a document to the math OCR converter when local
// text-layer extraction fails.
var scientificTags = map[string]struct{}{
	"#scientific":      {},
	"#math_heavy":      {},
	"#formulas":        {},
	"#equations":       {},
	"#latex":           {},
	"#journal_article": {},
	"#research_paper":  {},
}

// Document represents one item of the reference library.
// Identity and tags are externally owned; this system mirrors them and
// derives the processing state from the tag set.
type Document struct {
	// ID is the stable external item key.
	ID string

	// Title is the human-readable title from the library item.
	Title string

	// Authors holds the creator names from the library item.
	Authors []string

	// Year is the publication year, zero when unknown.
	Year int

	// Tags is the current tag set of the item.
	Tags []string

	// LastError holds the most recent processing failure message.
	LastError string

	// AddedAt is when the item was discovered, used for recency tie-breaks.
	AddedAt time.Time
}

// Status derives the processing state from the document's tags.
// If multiple state tags are present the most advanced one wins, so a
// half-finished transition never reports a document as pending again.
func (d *Document) Status() State {
	has := func(tag string) bool {
		for _, t := range d.Tags {
			if t == tag {
				return true
			}
		}
		return false
	}
	switch {
	case has(TagError):
		return StateError
	case has(TagProcessed):
		return StateProcessed
	case has(TagProcessing):
		return StateProcessing
	case has(TagToProcess):
		return StatePending
	default:
		return StateUnknown
	}
}

// IsScientific reports whether any tag routes this document to math OCR.
func (d *Document) IsScientific() bool {
	for _, t := range d.Tags {
		if _, ok := scientificTags[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

// ExtractedText is the normalised text produced for one document by one
// converter. It is immutable; reprocessing supersedes it wholesale.
type ExtractedText struct {
	// DocumentID links to the owning document.
	DocumentID string

	// Text is the extracted plain text, CRLF-normalised.
	Text string

	// Engine names the converter that produced the text.
	Engine string

	// Confident is false when the converter succeeded but flagged the
	// output as low quality (for example sparse OCR).
	Confident bool

	// CharsPerPage is the extraction density, kept for diagnostics.
	CharsPerPage float64

	// CreatedAt is when the extraction ran.
	CreatedAt time.Time
}

// Chunk is a contiguous retrieval-sized slice of a document's extracted text.
// Chunks are immutable and superseded wholesale on reprocessing.
type Chunk struct {
	// ID is the chunk identifier, deterministic for a given document and
	// position so unchanged text reproduces identical chunk sets.
	ID string

	// DocumentID links to the owning document.
	DocumentID string

	// Position is the zero-based order within the document.
	Position int

	// Start and End are the byte span into the extracted text.
	// Adjacent chunks share the configured overlap region verbatim.
	Start int
	End   int

	// Text is the chunk content, exactly the source span.
	Text string
}
