package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refrab/refrab/internal/core/domain"
)

// scriptedSearch returns fixed results for any query.
type scriptedSearch struct {
	results []domain.SearchResult
	err     error
	calls   int
}

func (s *scriptedSearch) Search(_ context.Context, _ string, _ domain.SearchOptions) ([]domain.SearchResult, error) {
	s.calls++
	return s.results, s.err
}

// scriptedLLM records the context it was given.
type scriptedLLM struct {
	answer      string
	err         error
	calls       int
	lastContext string
}

func (l *scriptedLLM) Complete(_ context.Context, _ string, contextText string) (string, error) {
	l.calls++
	l.lastContext = contextText
	if l.err != nil {
		return "", l.err
	}
	return l.answer, nil
}

func (l *scriptedLLM) ModelName() string { return "test-model" }
func (l *scriptedLLM) Close() error      { return nil }

func resultWith(docID, chunkID, text string) domain.SearchResult {
	return domain.SearchResult{
		Document: domain.Document{ID: docID, Title: "Title " + docID},
		Chunk:    domain.Chunk{ID: chunkID, DocumentID: docID, Text: text},
		Score:    1,
	}
}

func TestAskAnswersWithCitations(t *testing.T) {
	search := &scriptedSearch{results: []domain.SearchResult{
		resultWith("a", "a-c0", "quadrature background"),
		resultWith("b", "b-c0", "more detail"),
	}}
	llm := &scriptedLLM{answer: "Quadrature approximates integrals [1]."}
	ask := NewAsk(search, llm)

	answer, err := ask.Ask(context.Background(), "what is quadrature?", domain.SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Quadrature approximates integrals [1].", answer.Text)
	assert.False(t, answer.FromCache)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "a-c0", answer.Citations[0].ChunkID)
	assert.Equal(t, "Title a", answer.Citations[0].Title)

	assert.Contains(t, llm.lastContext, "quadrature background")
	assert.Contains(t, llm.lastContext, "Title a")
}

func TestAskNoRelevantContext(t *testing.T) {
	ask := NewAsk(&scriptedSearch{}, &scriptedLLM{answer: "x"})

	_, err := ask.Ask(context.Background(), "anything?", domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrNoRelevantContext)
}

func TestAskWithoutLLMConfigured(t *testing.T) {
	ask := NewAsk(&scriptedSearch{results: []domain.SearchResult{
		resultWith("a", "a-c0", "text"),
	}}, nil)

	_, err := ask.Ask(context.Background(), "anything?", domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	ask := NewAsk(&scriptedSearch{}, &scriptedLLM{})

	_, err := ask.Ask(context.Background(), "   ", domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAskTokenBudgetDropsLowestRanked(t *testing.T) {
	big := strings.Repeat("w", 4000) // ~1000 tokens
	search := &scriptedSearch{results: []domain.SearchResult{
		resultWith("a", "a-c0", "top ranked "+big),
		resultWith("b", "b-c0", "second ranked "+big),
	}}
	llm := &scriptedLLM{answer: "ok"}
	ask := NewAsk(search, llm, WithTokenBudget(1100))

	answer, err := ask.Ask(context.Background(), "question?", domain.SearchOptions{})
	require.NoError(t, err)

	// Only the top-ranked chunk fits; it is kept, the rest dropped.
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "a-c0", answer.Citations[0].ChunkID)
	assert.Contains(t, llm.lastContext, "top ranked")
	assert.NotContains(t, llm.lastContext, "second ranked")
}

func TestAskCachesAnswers(t *testing.T) {
	search := &scriptedSearch{results: []domain.SearchResult{
		resultWith("a", "a-c0", "some context"),
	}}
	llm := &scriptedLLM{answer: "cached answer"}
	ask := NewAsk(search, llm)

	first, err := ask.Ask(context.Background(), "What is it?", domain.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := ask.Ask(context.Background(), "what  is it?", domain.SearchOptions{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, llm.calls, "cached answers must not call the model again")
}

func TestAskSurfacesLLMError(t *testing.T) {
	search := &scriptedSearch{results: []domain.SearchResult{
		resultWith("a", "a-c0", "context"),
	}}
	ask := NewAsk(search, &scriptedLLM{err: errors.New("model unavailable")})

	_, err := ask.Ask(context.Background(), "question?", domain.SearchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference")
}
