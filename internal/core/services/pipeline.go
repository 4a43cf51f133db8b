package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/refrab/refrab/internal/chunker"
	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/core/ports/driving"
	"github.com/refrab/refrab/internal/logger"
)

// DefaultConvertWorkers is the bounded parallelism of the conversion
// stage. Conversion dominates the pipeline cost and is independent per
// document; everything downstream of it stays serial.
const DefaultConvertWorkers = 2

// Ensure Pipeline implements the interface.
var _ driving.PipelineRunner = (*Pipeline)(nil)

// Pipeline drives pending documents through conversion, chunking,
// embedding and dual indexing, owning every state transition on the way.
type Pipeline struct {
	queue      *DocumentQueue
	library    driven.LibrarySource
	dispatcher *Dispatcher
	chunks     *chunker.Chunker
	store      driven.DocumentStore
	embedder   driven.EmbeddingService
	index      driven.RetrievalIndex
	workers    int
}

// PipelineOption configures the pipeline.
type PipelineOption func(*Pipeline)

// WithConvertWorkers sets the conversion parallelism.
func WithConvertWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// NewPipeline creates the pipeline controller.
func NewPipeline(
	queue *DocumentQueue,
	library driven.LibrarySource,
	dispatcher *Dispatcher,
	chunks *chunker.Chunker,
	store driven.DocumentStore,
	embedder driven.EmbeddingService,
	index driven.RetrievalIndex,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		queue:      queue,
		library:    library,
		dispatcher: dispatcher,
		chunks:     chunks,
		store:      store,
		embedder:   embedder,
		index:      index,
		workers:    DefaultConvertWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// convOutcome carries one document through the parallel conversion stage
// into the serial indexing stage.
type convOutcome struct {
	doc      domain.Document
	text     *domain.ExtractedText
	conflict bool
	err      error
}

// ProcessPending runs every pending document through the pipeline.
// Conversion runs on a bounded worker pool; indexing and state
// transitions stay serial. Per-document failures are isolated: a
// conversion failure moves that document to error and the run continues.
func (p *Pipeline) ProcessPending(ctx context.Context) (*driving.RunSummary, error) {
	logger.Section("Pipeline Run")

	pending, err := p.queue.List(ctx, domain.StatePending)
	if err != nil {
		// The queue source being unreachable is a system-wide failure.
		return nil, fmt.Errorf("list pending: %w", err)
	}
	// Stuck documents from an interrupted run are retried, not skipped.
	stuck, err := p.queue.List(ctx, domain.StateProcessing)
	if err != nil {
		return nil, fmt.Errorf("list processing: %w", err)
	}
	logger.Info("Pending: %d, retrying stuck: %d", len(pending), len(stuck))

	outcomes := make([]convOutcome, len(pending)+len(stuck))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, doc := range pending {
		g.Go(func() error {
			outcomes[i] = p.convertOne(gctx, doc, true)
			return nil
		})
	}
	for i, doc := range stuck {
		g.Go(func() error {
			outcomes[len(pending)+i] = p.convertOne(gctx, doc, false)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &driving.RunSummary{}
	for i := range outcomes {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Outcomes = append(summary.Outcomes, p.finishOne(ctx, &outcomes[i]))
	}
	return summary, nil
}

// convertOne claims a document and runs the conversion stage.
// fromPending distinguishes fresh documents from stuck retries that are
// already tagged processing.
func (p *Pipeline) convertOne(ctx context.Context, doc domain.Document, fromPending bool) convOutcome {
	out := convOutcome{doc: doc}

	if fromPending {
		if err := p.queue.Transition(ctx, &doc, domain.StatePending, domain.StateProcessing); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				// Another controller instance claimed it; leave it alone.
				logger.Warn("Skipping %s: %v", doc.ID, err)
				out.conflict = true
				return out
			}
			out.err = err
			return out
		}
		out.doc = doc
	}

	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}

	data, err := p.library.FetchBytes(ctx, doc.ID)
	if err != nil {
		out.err = fmt.Errorf("fetch bytes: %w", err)
		return out
	}

	text, err := p.dispatcher.Dispatch(ctx, &doc, data)
	if err != nil {
		out.err = err
		return out
	}
	out.text = text
	return out
}

// finishOne runs the serial stage: persist, chunk, embed, index, and the
// final state transition.
func (p *Pipeline) finishOne(ctx context.Context, out *convOutcome) driving.DocumentOutcome {
	doc := out.doc
	result := driving.DocumentOutcome{DocumentID: doc.ID, Title: doc.Title}

	if out.conflict {
		result.State = doc.Status()
		result.Err = domain.ErrConflict
		return result
	}

	if out.err != nil {
		return p.failDocument(ctx, &doc, out.err)
	}

	if err := p.store.SaveDocument(ctx, &doc); err != nil {
		result.State = domain.StateProcessing
		result.Err = &domain.IndexWriteFailure{DocumentID: doc.ID, Cause: err}
		return result
	}
	if err := p.store.SaveExtractedText(ctx, out.text); err != nil {
		result.State = domain.StateProcessing
		result.Err = &domain.IndexWriteFailure{DocumentID: doc.ID, Cause: err}
		return result
	}

	chunks := p.chunks.Split(doc.ID, out.text.Text)
	result.Engine = out.text.Engine
	result.Chunks = len(chunks)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Embedding and index failures leave the document in processing
		// so the next run retries it; it is never marked processed.
		result.State = domain.StateProcessing
		result.Err = &domain.IndexWriteFailure{DocumentID: doc.ID, Cause: err}
		logger.Warn("Document %s stays in processing: %v", doc.ID, result.Err)
		return result
	}

	if err := p.store.ReplaceChunks(ctx, doc.ID, chunks, embeddings); err != nil {
		result.State = domain.StateProcessing
		result.Err = &domain.IndexWriteFailure{DocumentID: doc.ID, Cause: err}
		logger.Warn("Document %s stays in processing: %v", doc.ID, result.Err)
		return result
	}
	if err := p.index.Upsert(ctx, doc.ID, chunks, embeddings); err != nil {
		result.State = domain.StateProcessing
		result.Err = err
		logger.Warn("Document %s stays in processing: %v", doc.ID, err)
		return result
	}

	if err := p.queue.Transition(ctx, &doc, domain.StateProcessing, domain.StateProcessed); err != nil {
		result.State = domain.StateProcessing
		result.Err = err
		return result
	}

	result.State = domain.StateProcessed
	logger.Info("Processed %s: %d chunks via %s", doc.ID, len(chunks), out.text.Engine)
	return result
}

// failDocument records the failure and moves the document to error.
func (p *Pipeline) failDocument(ctx context.Context, doc *domain.Document, cause error) driving.DocumentOutcome {
	result := driving.DocumentOutcome{
		DocumentID: doc.ID,
		Title:      doc.Title,
		State:      domain.StateError,
		Err:        cause,
	}

	if err := p.store.RecordError(ctx, doc.ID, cause.Error()); err != nil {
		logger.Warn("Recording error for %s failed: %v", doc.ID, err)
	}
	if err := p.queue.Transition(ctx, doc, domain.StateProcessing, domain.StateError); err != nil {
		logger.Warn("Transition to error failed for %s: %v", doc.ID, err)
		result.State = doc.Status()
	}

	logger.Info("Document %s moved to error: %v", doc.ID, cause)
	return result
}

// QueueStatus returns per-state counts and the stuck-in-processing list.
func (p *Pipeline) QueueStatus(ctx context.Context) (*driving.QueueCounts, error) {
	counts := &driving.QueueCounts{}

	for _, st := range []domain.State{
		domain.StatePending, domain.StateProcessing, domain.StateProcessed, domain.StateError,
	} {
		docs, err := p.queue.List(ctx, st)
		if err != nil {
			return nil, err
		}
		switch st {
		case domain.StatePending:
			counts.Pending = len(docs)
		case domain.StateProcessing:
			counts.Processing = len(docs)
			counts.Stuck = docs
		case domain.StateProcessed:
			counts.Processed = len(docs)
		case domain.StateError:
			counts.Error = len(docs)
		}
	}
	return counts, nil
}
