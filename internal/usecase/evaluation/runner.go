// Package evaluation runs a fixed query set against every configured
// collection and prints raw, per-source and fused rankings side by side.
package evaluation

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/query"
	"github.com/kailas-cloud/vecfuse/internal/usecase/fusion"
	"github.com/kailas-cloud/vecfuse/internal/usecase/pipeline"
)

// Defaults for the printed and fetched depth.
const (
	DefaultPrintCount = 5
	MinSearchEach     = 10
)

// DefaultQueries is the query set used when none is given.
var DefaultQueries = []string{
	"reliable vendor with many completed orders",
	"active vendor with recent activity",
	"vendors with high average order amount",
	"vendors with many pending orders",
	"vendors with cancelled orders issues",
}

// Querier runs one pipeline query.
type Querier interface {
	Query(ctx context.Context, p query.Params) (pipeline.Result, error)
}

// Config controls one evaluation run.
type Config struct {
	Collections []string
	// EntityFields maps a collection to its entity id payload field.
	EntityFields map[string]string
	// PrintCount is the number of rows printed per section (K).
	PrintCount int
	// SearchEach is the fetch depth per collection, at least max(10, K).
	SearchEach int
	// Hint is printed when a collection returns nothing; %s is the collection name.
	Hint string
}

// Summary counts the outcome of a run.
type Summary struct {
	Queries int
	Failed  int
}

// Runner prints evaluation reports.
type Runner struct {
	querier Querier
	cfg     Config
	out     io.Writer
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a runner writing to out.
func New(querier Querier, cfg Config, out io.Writer, logger *zap.Logger) *Runner {
	if cfg.PrintCount <= 0 {
		cfg.PrintCount = DefaultPrintCount
	}
	if cfg.SearchEach < max(MinSearchEach, cfg.PrintCount) {
		cfg.SearchEach = max(MinSearchEach, cfg.PrintCount)
	}
	if cfg.Hint == "" {
		cfg.Hint = "If the collection is missing, run: vecfuse import --collection %s <file.jsonl>"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{querier: querier, cfg: cfg, out: out, now: time.Now, logger: logger}
}

// ParseQueries joins args with spaces and splits on ';'. Blank queries are dropped.
// No args yields DefaultQueries.
func ParseQueries(args []string) []string {
	if len(args) == 0 {
		return append([]string(nil), DefaultQueries...)
	}
	var out []string
	for _, q := range strings.Split(strings.Join(args, " "), ";") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// Run evaluates every query. A failing query is reported and skipped; only
// misconfiguration or cancellation stops the run.
func (r *Runner) Run(ctx context.Context, queries []string) (Summary, error) {
	var sum Summary
	r.section(fmt.Sprintf("Evaluation run @ %s (k_print=%d, search_each=%d)",
		r.now().UTC().Format(time.RFC3339), r.cfg.PrintCount, r.cfg.SearchEach))

	targets := make([]query.Target, len(r.cfg.Collections))
	for i, c := range r.cfg.Collections {
		targets[i] = query.Target{Collection: c, Limit: r.cfg.SearchEach}
	}
	floor := -1.0

	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Queries++
		r.section("Query: " + q)

		res, err := r.querier.Query(ctx, query.Params{
			Text:         q,
			Targets:      targets,
			Fuse:         true,
			FuseTopK:     r.cfg.PrintCount,
			Threshold:    &floor,
			DisplayCount: r.cfg.PrintCount,
		})
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			if domain.IsConfigError(err) {
				return sum, fmt.Errorf("query %q: %w", q, err)
			}
			sum.Failed++
			r.logger.Warn("evaluation query failed", zap.String("query", q), zap.Error(err))
			r.printf("[error] %v\n", err)
			continue
		}
		r.report(res)
	}
	return sum, nil
}

func (r *Runner) report(res pipeline.Result) {
	sources := make([]string, len(res.Branches))
	for i := range res.Branches {
		b := &res.Branches[i]
		sources[i] = b.Source
		if len(b.Hits) == 0 {
			r.printf("[hint] No %s hits (%s). %s\n", b.Source, b.Status, fmt.Sprintf(r.cfg.Hint, b.Collection))
		}
	}

	for i := range res.Branches {
		b := &res.Branches[i]
		r.section(fmt.Sprintf("%s top-%d (%s)", strings.ToUpper(b.Source), r.cfg.PrintCount, b.Collection))
		r.printHits(b.Source, r.entityField(b.Collection), hit.Truncate(b.Hits, r.cfg.PrintCount))
	}

	r.section(fmt.Sprintf("FUSED top-%d (max cosine score per entity)", r.cfg.PrintCount))
	for i := range res.Fused {
		r.printFused(i+1, &res.Fused[i], sources)
	}
}

func (r *Runner) entityField(collection string) string {
	if f := r.cfg.EntityFields[collection]; f != "" {
		return f
	}
	return fusion.DefaultEntityField
}

func (r *Runner) printHits(source, entityField string, hits []hit.Hit) {
	for i := range hits {
		h := &hits[i]
		src := source
		if s, ok := h.Payload["source"].AsString(); ok && s != "" {
			src = s
		}
		v := VendorOf(h.Payload)
		r.printf("%2d. vid=%s score=%.4f src=%s | %s | %s | %s\n",
			i+1, h.Payload.Text(entityField), h.Score, src, v.Name, v.Email, v.Status)
	}
}

func (r *Runner) printFused(rank int, f *fusion.Result, sources []string) {
	scores := make([]string, len(sources))
	for i, s := range sources {
		score, ok := f.PerSourceScores[s]
		if !ok {
			scores[i] = s + "=-"
			continue
		}
		scores[i] = s + "=" + strconv.FormatFloat(score, 'f', 4, 64)
	}
	v := VendorOf(f.Payload)
	r.printf("%2d. vid=%d best=%.4f src=%s %s | %s | %s | %s\n",
		rank, f.EntityID, f.BestScore, f.BestSource, strings.Join(scores, " "), v.Name, v.Email, v.Status)
}

func (r *Runner) section(title string) {
	r.printf("\n%s %s %s\n", strings.Repeat("=", 12), title, strings.Repeat("=", 12))
}

func (r *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}
