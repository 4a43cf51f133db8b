package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/core/ports/driving"
	"github.com/refrab/refrab/internal/index"
	"github.com/refrab/refrab/internal/logger"
)

// Ask defaults.
const (
	// DefaultContextTokenBudget caps the assembled context passed to the
	// inference service.
	DefaultContextTokenBudget = 3000

	// DefaultAskRetrieveK is how many chunks are retrieved before budget
	// trimming.
	DefaultAskRetrieveK = 8

	// DefaultAnswerCacheSize bounds the question/answer cache.
	DefaultAnswerCacheSize = 128
)

const answerPrompt = `Answer the question using only the provided context passages.
If the context does not contain the answer, say so. Cite passages as [n].

Question: %s`

// Ensure Ask implements the interface.
var _ driving.AskService = (*Ask)(nil)

// Ask answers questions over the indexed library: retrieve, assemble
// context under a token budget, call the inference service, cite sources.
type Ask struct {
	search      driving.SearchService
	llm         driven.LLMService
	tokenBudget int
	retrieveK   int
	cache       *index.LRU[domain.Answer]
}

// AskOption configures the ask service.
type AskOption func(*Ask)

// WithTokenBudget sets the maximum context size in tokens.
func WithTokenBudget(n int) AskOption {
	return func(a *Ask) {
		if n > 0 {
			a.tokenBudget = n
		}
	}
}

// WithRetrieveK sets how many chunks are retrieved per question.
func WithRetrieveK(k int) AskOption {
	return func(a *Ask) {
		if k > 0 {
			a.retrieveK = k
		}
	}
}

// NewAsk creates the ask service. The LLM may be nil; Ask then fails
// with domain.ErrLLMUnavailable while search remains usable.
func NewAsk(search driving.SearchService, llm driven.LLMService, opts ...AskOption) *Ask {
	a := &Ask{
		search:      search,
		llm:         llm,
		tokenBudget: DefaultContextTokenBudget,
		retrieveK:   DefaultAskRetrieveK,
		cache:       index.NewLRU[domain.Answer](DefaultAnswerCacheSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ask retrieves context for the question and calls the inference service.
// Zero retrieved chunks surface as domain.ErrNoRelevantContext; an answer
// is never fabricated from nothing.
func (a *Ask) Ask(ctx context.Context, question string, opts domain.SearchOptions) (*domain.Answer, error) {
	logger.Section("Ask")

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	if a.llm == nil {
		return nil, domain.ErrLLMUnavailable
	}

	cacheKey := resultCacheKey(question, opts, a.retrieveK)
	if cached, ok := a.cache.Get(cacheKey); ok {
		logger.Debug("Answer cache hit for %q", question)
		answer := cached
		answer.FromCache = true
		return &answer, nil
	}

	opts.Limit = a.retrieveK
	results, err := a.search.Search(ctx, question, opts)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(results) == 0 {
		return nil, domain.ErrNoRelevantContext
	}

	contextText, used := a.assembleContext(results)
	logger.Debug("Context: %d of %d chunks within budget", len(used), len(results))

	text, err := a.llm.Complete(ctx, fmt.Sprintf(answerPrompt, question), contextText)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	answer := domain.Answer{Text: text, Citations: citations(used)}
	a.cache.Put(cacheKey, answer)
	return &answer, nil
}

// assembleContext concatenates result texts under the token budget,
// dropping the lowest-ranked chunks first.
func (a *Ask) assembleContext(results []domain.SearchResult) (string, []domain.SearchResult) {
	var sb strings.Builder
	var used []domain.SearchResult
	budget := a.tokenBudget

	for _, r := range results {
		cost := approxTokens(r.Chunk.Text)
		if cost > budget && len(used) > 0 {
			break
		}
		fmt.Fprintf(&sb, "[%d] %s (%s)\n%s\n\n", len(used)+1, r.Document.Title, r.Document.ID, r.Chunk.Text)
		used = append(used, r)
		budget -= cost
	}
	return sb.String(), used
}

func citations(results []domain.SearchResult) []domain.Citation {
	out := make([]domain.Citation, len(results))
	for i, r := range results {
		out[i] = domain.Citation{
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Document.ID,
			Title:      r.Document.Title,
			Position:   r.Chunk.Position,
		}
	}
	return out
}

// approxTokens is a cheap token estimator (~4 chars per token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
