package driving

import (
	"context"

	"github.com/refrab/refrab/internal/core/domain"
)

// DocumentOutcome is the per-document result of a pipeline run.
type DocumentOutcome struct {
	// DocumentID is the processed item.
	DocumentID string

	// Title is the document title for reporting.
	Title string

	// State is the final state after the run (processed, error, or
	// processing when an index write failed and the item will be retried).
	State domain.State

	// Engine names the converter that produced the text, empty on failure.
	Engine string

	// Chunks is the number of chunks written.
	Chunks int

	// Err is the failure cause, nil on success.
	Err error
}

// RunSummary aggregates one process invocation.
type RunSummary struct {
	Outcomes []DocumentOutcome
}

// Failed returns the number of documents that did not reach processed,
// whether they moved to error or stalled in processing for a retry.
func (s *RunSummary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.State != domain.StateProcessed {
			n++
		}
	}
	return n
}

// QueueCounts holds per-state document counts for the status command.
type QueueCounts struct {
	Pending    int
	Processing int
	Processed  int
	Error      int

	// Stuck lists documents found in processing at rest, meaning a prior
	// run was interrupted or an index write failed. They are retried, not
	// skipped, on the next run.
	Stuck []domain.Document
}

// PipelineRunner drives pending documents through conversion, chunking
// and indexing.
type PipelineRunner interface {
	// ProcessPending runs every pending document through the pipeline.
	// Per-document failures are isolated; only a system-wide failure
	// (the library source is unreachable) returns an error.
	ProcessPending(ctx context.Context) (*RunSummary, error)

	// QueueStatus returns per-state counts.
	QueueStatus(ctx context.Context) (*QueueCounts, error)
}
