package rerank

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
)

// pairScorer scores a document by its length unless fn is set.
type pairScorer struct {
	fn    func(doc string) (float64, error)
	calls atomic.Int32
}

func (p *pairScorer) ScorePair(_ context.Context, _, doc string) (float64, error) {
	p.calls.Add(1)
	if p.fn != nil {
		return p.fn(doc)
	}
	return float64(len(doc)), nil
}

type batchScorer struct {
	pairScorer
	scores []domain.RelevanceScore
	err    error
	docs   []string
}

func (b *batchScorer) ScoreBatch(_ context.Context, _ string, docs []string) ([]domain.RelevanceScore, error) {
	b.docs = docs
	return b.scores, b.err
}

func candidates() []Candidate {
	return []Candidate{
		{Key: "a", Text: "short", Score: 0.9},
		{Key: "b", Text: "a much longer text", Score: 0.5},
		{Key: "c", Text: "medium text", Score: 0.7},
	}
}

func TestRerank_Disabled(t *testing.T) {
	s, err := New(nil, Config{}, nil)
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	in := candidates()
	out, err := s.Rerank(context.Background(), "q", in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].Key, "order unchanged")
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, 0.9, out[0].PriorScore)
}

func TestRerank_PairPool(t *testing.T) {
	scorer := &pairScorer{}
	s, err := New(scorer, Config{Model: "test", Workers: 2}, nil)
	require.NoError(t, err)
	defer s.Release()

	in := candidates()
	out, err := s.Rerank(context.Background(), "q", in)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, []string{"b", "c", "a"}, []string{out[0].Key, out[1].Key, out[2].Key})
	assert.Equal(t, float64(len("a much longer text")), out[0].Score)
	assert.Equal(t, 0.5, out[0].PriorScore)
	assert.Equal(t, int32(3), scorer.calls.Load())

	assert.Equal(t, "a", in[0].Key, "input not mutated")
	assert.Equal(t, 0.9, in[0].Score)
}

func TestRerank_PairError(t *testing.T) {
	scorer := &pairScorer{fn: func(doc string) (float64, error) {
		if doc == "medium text" {
			return 0, errors.New("503 service unavailable")
		}
		return 1, nil
	}}
	s, err := New(scorer, Config{Workers: 1}, nil)
	require.NoError(t, err)
	defer s.Release()

	_, err = s.Rerank(context.Background(), "q", candidates())
	assert.ErrorIs(t, err, domain.ErrRerankProviderError)
}

func TestRerank_Batch(t *testing.T) {
	scorer := &batchScorer{scores: []domain.RelevanceScore{
		{Index: 2, Score: 0.1}, {Index: 0, Score: 0.3}, {Index: 1, Score: 0.2},
	}}
	s, err := New(scorer, Config{Model: "test"}, nil)
	require.NoError(t, err)

	out, err := s.Rerank(context.Background(), "q", candidates())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].Key, out[1].Key, out[2].Key})
	assert.Equal(t, 0.3, out[0].Score)
	assert.Equal(t, int32(0), scorer.calls.Load(), "batch scorer must not be called per pair")
}

func TestRerank_BatchIncomplete(t *testing.T) {
	tests := []struct {
		name   string
		scores []domain.RelevanceScore
	}{
		{"fewer scores", []domain.RelevanceScore{{Index: 0, Score: 1}, {Index: 1, Score: 1}}},
		{"duplicate index", []domain.RelevanceScore{{Index: 0, Score: 1}, {Index: 0, Score: 1}, {Index: 1, Score: 1}}},
		{"out of range", []domain.RelevanceScore{{Index: 0, Score: 1}, {Index: 1, Score: 1}, {Index: 3, Score: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(&batchScorer{scores: tt.scores}, Config{}, nil)
			require.NoError(t, err)

			_, err = s.Rerank(context.Background(), "q", candidates())
			assert.ErrorIs(t, err, domain.ErrRerankIncomplete)
		})
	}
}

func TestRerank_BatchProviderError(t *testing.T) {
	s, err := New(&batchScorer{err: errors.New("timeout")}, Config{}, nil)
	require.NoError(t, err)

	_, err = s.Rerank(context.Background(), "q", candidates())
	assert.ErrorIs(t, err, domain.ErrRerankProviderError)
	assert.NotErrorIs(t, err, domain.ErrRerankIncomplete)
}

func TestRerank_FillsMissingText(t *testing.T) {
	scorer := &batchScorer{scores: []domain.RelevanceScore{{Index: 0, Score: 1}}}
	s, err := New(scorer, Config{}, nil)
	require.NoError(t, err)

	_, err = s.Rerank(context.Background(), "q", []Candidate{
		{Key: "x", Payload: payload.Map{"profile_text": payload.String("Acme sells fuel")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme sells fuel"}, scorer.docs)
}

func TestCandidateText(t *testing.T) {
	tests := []struct {
		name string
		p    payload.Map
		want string
	}{
		{
			"profile text wins",
			payload.Map{"profile_text": payload.String("P"), "profile_summary": payload.String("S")},
			"P",
		},
		{"summary", payload.Map{"profile_summary": payload.String("S")}, "S"},
		{"semantic text", payload.Map{"semantic_text": payload.String("T")}, "T"},
		{
			"raw data",
			payload.Map{
				"table": payload.String("vendors"),
				"data": payload.Object(payload.Map{
					"name":   payload.String("Acme"),
					"email":  payload.Null(),
					"active": payload.Bool(true),
					"id":     payload.Int(7),
				}),
			},
			"[vendors] active: true | id: 7 | name: Acme",
		},
		{"custom table, no data", payload.Map{"table": payload.String("orders")}, "[orders]"},
		{"empty", payload.Map{}, "[vendors]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidateText(tt.p))
		})
	}
	assert.False(t, strings.Contains(CandidateText(payload.Map{
		"data": payload.Object(payload.Map{"x": payload.Null()}),
	}), "x:"))
}
