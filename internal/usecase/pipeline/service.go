// Package pipeline runs one query through embedding, retrieval, fusion,
// reranking and presentation.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/query"
	"github.com/kailas-cloud/vecfuse/internal/metrics"
	"github.com/kailas-cloud/vecfuse/internal/usecase/fusion"
	"github.com/kailas-cloud/vecfuse/internal/usecase/present"
	"github.com/kailas-cloud/vecfuse/internal/usecase/rerank"
	"github.com/kailas-cloud/vecfuse/internal/usecase/retrieval"
)

// DebugCount is the size of the raw similarity view.
const DebugCount = 10

// Result is the outcome of one pipeline run.
type Result struct {
	Query        string
	Presentation present.Presentation
	// Fused is set when fusion was requested.
	Fused    []fusion.Result
	Branches []retrieval.Branch
	// Debug holds the top raw similarity hits across all branches, ignoring the threshold.
	Debug    []hit.Hit
	Reranked bool
	Tokens   int
	Duration time.Duration
}

// Service executes pipeline queries.
type Service struct {
	embedder  domain.Embedder
	retriever Retriever
	reranker  Reranker
	logger    *zap.Logger
}

// New creates a pipeline service. reranker may be nil.
func New(embedder domain.Embedder, retriever Retriever, reranker Reranker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder:  embedder,
		retriever: retriever,
		reranker:  reranker,
		logger:    logger,
	}
}

// Query embeds the text, searches every target concurrently, optionally fuses
// and reranks, then applies the threshold and fallback policy.
func (s *Service) Query(ctx context.Context, p query.Params) (Result, error) {
	res, err := s.run(ctx, p)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}
	metrics.QueriesTotal.WithLabelValues(string(res.Presentation.Mode)).Inc()
	return res, nil
}

func (s *Service) run(ctx context.Context, p query.Params) (Result, error) {
	start := time.Now()

	req, err := query.New(p)
	if err != nil {
		return Result{}, err
	}

	emb, err := s.embedder.Embed(ctx, req.Text())
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}

	branches, err := s.retriever.Retrieve(ctx, emb.Embedding, req.Targets())
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return Result{}, fmt.Errorf("retrieve: %w", err)
	}
	if err := retrieval.ConfigError(branches); err != nil {
		return Result{}, err
	}

	res := Result{
		Query:    req.Text(),
		Branches: branches,
		Debug:    mergeHits(branches, DebugCount),
		Tokens:   emb.TotalTokens,
	}

	var candidates []rerank.Candidate
	if req.Fuse() {
		res.Fused = fusion.Fuse(s.sourceHits(branches), req.FuseTopK())
		candidates = fusedCandidates(res.Fused)
	} else {
		candidates = s.hitCandidates(branches)
	}

	if req.Rerank() && s.reranker != nil && s.reranker.Enabled() {
		candidates, err = s.reranker.Rerank(ctx, req.Text(), candidates)
		if err != nil {
			return Result{}, fmt.Errorf("rerank: %w", err)
		}
		res.Reranked = true
	}

	res.Presentation = present.Apply(candidates, req.Threshold(), req.DisplayCount())
	res.Duration = time.Since(start)

	s.logger.Info("query completed",
		zap.Int("collections", len(branches)),
		zap.Bool("fuse", req.Fuse()),
		zap.Bool("reranked", res.Reranked),
		zap.String("mode", string(res.Presentation.Mode)),
		zap.Int("considered", res.Presentation.Considered),
		zap.Int("shown", len(res.Presentation.Items)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// sourceHits labels each branch for fusion; Order is the target position.
func (s *Service) sourceHits(branches []retrieval.Branch) []fusion.SourceHits {
	lists := make([]fusion.SourceHits, len(branches))
	for i := range branches {
		b := &branches[i]
		lists[i] = fusion.SourceHits{
			Source:      b.Source,
			Order:       i,
			EntityField: s.entityField(b.Collection),
			Hits:        b.Hits,
		}
	}
	return lists
}

func (s *Service) entityField(collection string) string {
	if c, ok := s.retriever.Lookup(collection); ok && c.EntityField != "" {
		return c.EntityField
	}
	return fusion.DefaultEntityField
}

func fusedCandidates(fused []fusion.Result) []rerank.Candidate {
	out := make([]rerank.Candidate, len(fused))
	for i := range fused {
		f := &fused[i]
		out[i] = rerank.Candidate{
			Key:      "entity:" + strconv.FormatInt(f.EntityID, 10),
			Text:     rerank.CandidateText(f.Payload),
			Payload:  f.Payload,
			Score:    f.BestScore,
			EntityID: f.EntityID,
			Source:   f.BestSource,
		}
	}
	return out
}

// hitCandidates merges unfused branches into one list ranked by similarity.
// Equal scores keep target order.
func (s *Service) hitCandidates(branches []retrieval.Branch) []rerank.Candidate {
	var total int
	for i := range branches {
		total += len(branches[i].Hits)
	}
	all := make([]hit.Hit, 0, total)
	sources := make(map[string]string, len(branches))
	for i := range branches {
		all = append(all, branches[i].Hits...)
		sources[branches[i].Collection] = branches[i].Source
	}
	hit.SortByScore(all)

	out := make([]rerank.Candidate, len(all))
	for i := range all {
		h := &all[i]
		entityID, _ := h.Payload.EntityID(s.entityField(h.Collection))
		out[i] = rerank.Candidate{
			Key:      h.Collection + ":" + strconv.FormatInt(h.ID, 10),
			Text:     rerank.CandidateText(h.Payload),
			Payload:  h.Payload,
			Score:    h.Score,
			EntityID: entityID,
			Source:   sources[h.Collection],
		}
	}
	return out
}

// mergeHits returns the n best hits across branches.
func mergeHits(branches []retrieval.Branch, n int) []hit.Hit {
	var all []hit.Hit
	for i := range branches {
		all = append(all, branches[i].Hits...)
	}
	hit.SortByScore(all)
	return append([]hit.Hit{}, hit.Truncate(all, n)...)
}
