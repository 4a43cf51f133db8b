// Package cli implements the refrab command-line interface.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refrab/refrab/internal/adapters/driven/converter/mathpix"
	"github.com/refrab/refrab/internal/adapters/driven/converter/ocr"
	"github.com/refrab/refrab/internal/adapters/driven/converter/pdftext"
	"github.com/refrab/refrab/internal/adapters/driven/converter/tables"
	embeddingollama "github.com/refrab/refrab/internal/adapters/driven/embedding/ollama"
	"github.com/refrab/refrab/internal/adapters/driven/library/zotero"
	llmollama "github.com/refrab/refrab/internal/adapters/driven/llm/ollama"
	"github.com/refrab/refrab/internal/adapters/driven/storage/sqlite"
	"github.com/refrab/refrab/internal/chunker"
	"github.com/refrab/refrab/internal/config"
	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/core/services"
	"github.com/refrab/refrab/internal/index"
	"github.com/refrab/refrab/internal/logger"
)

var (
	flagVerbose   bool
	flagConfigDir string
)

var rootCmd = &cobra.Command{
	Use:   "refrab",
	Short: "Personal reference library ingestion and retrieval",
	Long: `refrab turns a tag-driven Zotero queue into a locally searchable
library: it converts queued PDFs to text, chunks and embeds them, and
answers keyword, hybrid and natural-language queries over the result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(flagVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config", "", "config directory (default ~/.refrab)")
}

// Execute runs the CLI. Errors are printed by the caller; the process
// exit code is non-zero on any failure.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles the wired services behind the commands.
type app struct {
	cfg      *config.Config
	store    *sqlite.Store
	library  driven.LibrarySource
	embedder driven.EmbeddingService
	llm      driven.LLMService
	idx      *index.Dual
	pipeline *services.Pipeline
	search   *services.Search
	ask      *services.Ask
}

// newApp wires the full service graph from configuration and rebuilds
// the in-memory indexes from the store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfigDir)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{cfg: cfg, store: store}

	a.embedder = index.NewCachingEmbedder(embeddingollama.NewEmbeddingService(embeddingollama.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.EmbeddingModel,
	}), index.DefaultEmbedCacheSize)
	a.llm = llmollama.NewLLMService(llmollama.LLMConfig{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.LLMModel,
	})

	var idxOpts []index.Option
	if cfg.Search.HybridWeight > 0 {
		idxOpts = append(idxOpts, index.WithHybridWeight(cfg.Search.HybridWeight))
	}
	a.idx = index.NewDual(a.embedder, idxOpts...)

	if err := a.rebuildIndex(ctx); err != nil {
		store.Close()
		return nil, err
	}

	a.search = services.NewSearch(a.idx, store)
	a.ask = services.NewAsk(a.search, a.llm)
	return a, nil
}

// requireLibrary completes the wiring for commands that talk to Zotero.
func (a *app) requireLibrary() error {
	if err := a.cfg.RequireZotero(); err != nil {
		return err
	}

	library, err := zotero.NewClient(zotero.Config{
		UserID: a.cfg.Zotero.UserID,
		APIKey: a.cfg.Zotero.APIKey,
	})
	if err != nil {
		return err
	}
	a.library = library

	var mathOCR driven.Converter
	if a.cfg.HasMathpix() {
		mathOCR = mathpix.New(mathpix.Config{
			AppID:  a.cfg.Mathpix.AppID,
			AppKey: a.cfg.Mathpix.AppKey,
		})
	}
	dispatcher := services.NewDispatcher(pdftext.New(), ocr.New(), mathOCR, tables.New())

	var popts []services.PipelineOption
	if a.cfg.Pipeline.ConvertWorkers > 0 {
		popts = append(popts, services.WithConvertWorkers(a.cfg.Pipeline.ConvertWorkers))
	}
	a.pipeline = services.NewPipeline(
		services.NewDocumentQueue(library),
		library,
		dispatcher,
		chunker.New(),
		a.store,
		a.embedder,
		a.idx,
		popts...,
	)
	return nil
}

// rebuildIndex loads all persisted chunks into the in-memory indexes.
// Embeddings are stored alongside chunks, so no model calls happen here.
func (a *app) rebuildIndex(ctx context.Context) error {
	var (
		docID      string
		chunks     []domain.Chunk
		embeddings [][]float32
		total      int
	)

	flush := func() error {
		if docID == "" {
			return nil
		}
		if err := a.idx.Upsert(ctx, docID, chunks, embeddings); err != nil {
			return fmt.Errorf("rebuild index for %s: %w", docID, err)
		}
		total += len(chunks)
		chunks, embeddings = nil, nil
		return nil
	}

	err := a.store.LoadAllChunks(ctx, func(chunk domain.Chunk, embedding []float32) error {
		if chunk.DocumentID != docID {
			if err := flush(); err != nil {
				return err
			}
			docID = chunk.DocumentID
		}
		chunks = append(chunks, chunk)
		embeddings = append(embeddings, embedding)
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	logger.Debug("Index rebuilt: %d chunks", total)
	return nil
}

// Close releases all held resources.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.embedder != nil {
		a.embedder.Close()
	}
	if a.llm != nil {
		a.llm.Close()
	}
}
