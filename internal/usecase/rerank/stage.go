// Package rerank re-scores a fixed candidate list with a pairwise relevance model.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
	"github.com/kailas-cloud/vecfuse/internal/metrics"
)

// DefaultWorkers bounds concurrent pair scoring calls.
const DefaultWorkers = 4

// Candidate is one item to rerank. Score is the last computed score;
// PriorScore holds the score it had before reranking.
type Candidate struct {
	Key        string
	Text       string
	Payload    payload.Map
	Score      float64
	PriorScore float64
	EntityID   int64
	Source     string
}

// Config configures the stage.
type Config struct {
	Model   string
	Workers int
}

// Stage replaces candidate scores with relevance scores. A Stage without a
// scorer passes candidates through unchanged.
type Stage struct {
	scorer domain.PairScorer
	batch  domain.BatchScorer
	pool   *ants.Pool
	model  string
	logger *zap.Logger
}

// New creates a rerank stage. scorer may be nil, which disables reranking.
// When scorer also implements domain.BatchScorer all candidates are scored in
// one call; otherwise pairs are scored on a bounded worker pool.
func New(scorer domain.PairScorer, cfg Config, logger *zap.Logger) (*Stage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stage{scorer: scorer, model: cfg.Model, logger: logger}
	if scorer == nil {
		return s, nil
	}
	if b, ok := scorer.(domain.BatchScorer); ok {
		s.batch = b
		return s, nil
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("rerank pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Enabled reports whether the stage has a relevance model.
func (s *Stage) Enabled() bool { return s != nil && s.scorer != nil }

// Release frees the worker pool.
func (s *Stage) Release() {
	if s != nil && s.pool != nil {
		s.pool.Release()
	}
}

// Rerank scores every candidate against query and returns a new list sorted by
// the new score, descending and stable. Candidates are never added or dropped:
// when the model does not score every candidate the call fails with
// domain.ErrRerankIncomplete.
func (s *Stage) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].PriorScore = out[i].Score
	}
	if !s.Enabled() || len(out) == 0 {
		return out, nil
	}

	docs := make([]string, len(out))
	for i := range out {
		docs[i] = out[i].Text
		if docs[i] == "" {
			docs[i] = CandidateText(out[i].Payload)
		}
	}

	start := time.Now()
	var (
		scores []float64
		err    error
	)
	if s.batch != nil {
		scores, err = s.scoreBatch(ctx, query, docs)
	} else {
		scores, err = s.scorePairs(ctx, query, docs)
	}
	duration := time.Since(start)

	if err != nil {
		metrics.RerankRequestsTotal.WithLabelValues(s.model, "error").Inc()
		s.logger.Error("rerank failed",
			zap.String("model", s.model),
			zap.Int("candidates", len(out)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.RerankRequestsTotal.WithLabelValues(s.model, "success").Inc()
	metrics.RerankRequestDuration.WithLabelValues(s.model).Observe(duration.Seconds())

	for i := range out {
		out[i].Score = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	s.logger.Debug("rerank completed",
		zap.String("model", s.model),
		zap.Int("candidates", len(out)),
		zap.Duration("duration", duration),
	)
	return out, nil
}

func (s *Stage) scoreBatch(ctx context.Context, query string, docs []string) ([]float64, error) {
	res, err := s.batch.ScoreBatch(ctx, query, docs)
	if err != nil {
		if !errors.Is(err, domain.ErrRerankProviderError) {
			err = fmt.Errorf("%w: %w", domain.ErrRerankProviderError, err)
		}
		return nil, fmt.Errorf("score batch: %w", err)
	}
	if len(res) != len(docs) {
		return nil, fmt.Errorf("%w: got %d scores for %d candidates", domain.ErrRerankIncomplete, len(res), len(docs))
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range res {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("%w: index %d out of range", domain.ErrRerankIncomplete, r.Index)
		}
		if seen[r.Index] {
			return nil, fmt.Errorf("%w: duplicate index %d", domain.ErrRerankIncomplete, r.Index)
		}
		if math.IsNaN(r.Score) {
			return nil, fmt.Errorf("%w: NaN score at index %d", domain.ErrRerankIncomplete, r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	return scores, nil
}

func (s *Stage) scorePairs(ctx context.Context, query string, docs []string) ([]float64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scores := make([]float64, len(docs))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for i := range docs {
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			score, err := s.scorer.ScorePair(ctx, query, docs[i])
			if err != nil {
				fail(fmt.Errorf("score candidate %d: %w", i, err))
				return
			}
			if math.IsNaN(score) {
				fail(fmt.Errorf("%w: NaN score at index %d", domain.ErrRerankIncomplete, i))
				return
			}
			scores[i] = score
		}); err != nil {
			wg.Done()
			fail(fmt.Errorf("submit candidate %d: %w", i, err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		if errors.Is(firstErr, domain.ErrRerankIncomplete) || errors.Is(firstErr, domain.ErrRerankProviderError) {
			return nil, firstErr
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrRerankProviderError, firstErr)
	}
	return scores, nil
}
