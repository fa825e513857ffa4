// Package retrieval fans a query vector out to several collections concurrently.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/query"
	"github.com/kailas-cloud/vecfuse/internal/metrics"
)

// Status is the outcome of one collection search.
type Status string

// Branch statuses.
const (
	StatusOK      Status = "ok"
	StatusMissing Status = "missing"
	StatusTimeout Status = "timeout"
	StatusFailed  Status = "failed"
)

// DefaultBranchTimeout bounds a single collection search.
const DefaultBranchTimeout = 5 * time.Second

// Collection binds a collection name to its backend and fusion metadata.
type Collection struct {
	Name        string
	Source      string
	EntityField string
	Store       VectorStore
}

// Branch is the outcome of searching one collection. Hits is never nil.
type Branch struct {
	Collection string
	Source     string
	Hits       []hit.Hit
	Status     Status
	Diagnostic hit.Diagnostic
	Err        error
	Duration   time.Duration
}

// Engine runs per-collection searches in parallel.
type Engine struct {
	collections map[string]Collection
	timeout     time.Duration
	logger      *zap.Logger
}

// New creates an engine over the given collections. timeout <= 0 uses DefaultBranchTimeout.
func New(collections []Collection, timeout time.Duration, logger *zap.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultBranchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[string]Collection, len(collections))
	for _, c := range collections {
		if c.Source == "" {
			c.Source = c.Name
		}
		m[c.Name] = c
	}
	return &Engine{collections: m, timeout: timeout, logger: logger}
}

// Lookup returns the registered collection.
func (e *Engine) Lookup(name string) (Collection, bool) {
	c, ok := e.collections[name]
	return c, ok
}

// Retrieve searches every target concurrently. The result is indexed by target
// order. A failing branch never aborts its siblings; only an unknown collection
// fails the call, before any search is issued.
func (e *Engine) Retrieve(ctx context.Context, vector []float32, targets []query.Target) ([]Branch, error) {
	cols := make([]Collection, len(targets))
	for i, t := range targets {
		c, ok := e.collections[t.Collection]
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCollection, t.Collection)
		}
		cols[i] = c
	}

	branches := make([]Branch, len(targets))
	var g errgroup.Group
	for i := range targets {
		g.Go(func() error {
			branches[i] = e.search(ctx, cols[i], vector, targets[i].Limit)
			return nil
		})
	}
	_ = g.Wait() // branches report their own errors

	// A cancelled caller is not a degraded backend.
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context errors are returned as is
	}
	return branches, nil
}

type searchOutcome struct {
	res hit.Result
	err error
}

func (e *Engine) search(ctx context.Context, c Collection, vector []float32, limit int) Branch {
	bctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan searchOutcome, 1)
	go func() {
		res, err := c.Store.Search(bctx, c.Name, vector, limit)
		done <- searchOutcome{res: res, err: err}
	}()

	var out searchOutcome
	select {
	case out = <-done:
	case <-bctx.Done():
		out = searchOutcome{err: bctx.Err()}
	}

	b := Branch{
		Collection: c.Name,
		Source:     c.Source,
		Hits:       []hit.Hit{},
		Duration:   time.Since(start),
	}

	switch {
	case out.err == nil:
		if out.res.Hits != nil {
			b.Hits = out.res.Hits
		}
		b.Diagnostic = out.res.Diagnostic
		b.Status = StatusOK
		if b.Diagnostic == hit.DiagnosticCollectionMissing {
			b.Status = StatusMissing
		}
	case errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil:
		b.Status = StatusTimeout
		b.Err = fmt.Errorf("search %s: %w", c.Name, out.err)
	default:
		b.Status = StatusFailed
		b.Err = fmt.Errorf("search %s: %w", c.Name, out.err)
	}

	metrics.RetrievalBranchesTotal.WithLabelValues(c.Name, string(b.Status)).Inc()
	metrics.RetrievalBranchDuration.WithLabelValues(c.Name).Observe(b.Duration.Seconds())

	if b.Status != StatusOK {
		e.logger.Warn("retrieval branch degraded",
			zap.String("collection", c.Name),
			zap.String("status", string(b.Status)),
			zap.Duration("duration", b.Duration),
			zap.Error(b.Err),
		)
	}
	return b
}

// ConfigError returns the first branch error caused by misconfiguration, such
// as a query vector whose dimension does not match the collection.
func ConfigError(branches []Branch) error {
	for i := range branches {
		if branches[i].Err != nil && domain.IsConfigError(branches[i].Err) {
			return branches[i].Err
		}
	}
	return nil
}
