package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent state mutation was detected.
	// The caller must re-read the document's tags before retrying.
	ErrConflict = errors.New("state conflict")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIndexBusy indicates an upsert for the same document is already
	// in flight.
	ErrIndexBusy = errors.New("index upsert in progress for document")

	// ErrNoRelevantContext indicates retrieval returned zero chunks for a
	// question. The caller must surface this rather than fabricate an answer.
	ErrNoRelevantContext = errors.New("no relevant context found")

	// ErrLLMUnavailable indicates the inference service is not configured.
	ErrLLMUnavailable = errors.New("inference service unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service is not
	// configured. Vector search is disabled without embeddings.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrConverterUnavailable indicates a converter capability is not
	// configured (for example a missing math OCR credential).
	ErrConverterUnavailable = errors.New("converter unavailable")
)

// ConvertAttempt records the outcome of one converter strategy.
type ConvertAttempt struct {
	// Engine is the converter name.
	Engine string

	// Err is the failure cause, nil for skipped strategies.
	Err error
}

// DispatchFailure is returned when no text-producing converter succeeded.
// It carries the causes of every attempted strategy so the per-document
// error message explains the whole decision path.
type DispatchFailure struct {
	DocumentID string
	Attempts   []ConvertAttempt
}

// Error implements the error interface.
func (f *DispatchFailure) Error() string {
	var parts []string
	for _, a := range f.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", a.Engine, a.Err))
		}
	}
	return fmt.Sprintf("no converter produced usable text for %s (%s)",
		f.DocumentID, strings.Join(parts, "; "))
}

// IndexWriteFailure is returned when a dual-index upsert could not complete.
// The document must stay in processing so the next run retries it.
type IndexWriteFailure struct {
	DocumentID string
	Cause      error
}

// Error implements the error interface.
func (f *IndexWriteFailure) Error() string {
	return fmt.Sprintf("index write failed for %s: %v", f.DocumentID, f.Cause)
}

// Unwrap exposes the underlying cause for errors.Is checks.
func (f *IndexWriteFailure) Unwrap() error {
	return f.Cause
}
