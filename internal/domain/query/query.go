// Package query holds the validated parameters of one pipeline run.
package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/vecfuse/internal/domain"
)

// Query parameter limits.
const (
	// MaxTextLength is the maximum allowed query text length.
	MaxTextLength       = 4096
	DefaultLimit        = 60
	MaxLimit            = 1000
	DefaultFuseTopK     = 60
	DefaultThreshold    = 0.40
	DefaultDisplayCount = 10
	MaxDisplayCount     = 500
)

// Target is one collection to search and its fetch depth.
type Target struct {
	Collection string
	Limit      int
}

// Params are the raw, unvalidated query parameters.
type Params struct {
	Text         string
	Targets      []Target
	Fuse         bool
	FuseTopK     int
	Rerank       bool
	Threshold    *float64
	DisplayCount int
}

// Request is a validated pipeline query.
type Request struct {
	text         string
	targets      []Target
	fuse         bool
	fuseTopK     int
	rerank       bool
	threshold    float64
	displayCount int
}

// Depth validates a depth the caller set explicitly. Zero is only a default
// marker inside Params; a caller asking for zero or fewer rows is rejected.
func Depth(name string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %d", domain.ErrInvalidOptions, name, n)
	}
	return n, nil
}

// New validates and normalizes query parameters.
// Zero depths take the defaults: limit=60 per collection, fuse top_k=60,
// display=10. Negative depths are rejected. The threshold defaults to 0.40.
// Target order is preserved and defines the canonical collection order.
func New(p Params) (Request, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return Request{}, domain.ErrEmptyQuery
	}
	if len(text) > MaxTextLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidOptions, MaxTextLength)
	}
	if len(p.Targets) == 0 {
		return Request{}, fmt.Errorf("%w: at least one collection is required", domain.ErrInvalidOptions)
	}

	seen := make(map[string]bool, len(p.Targets))
	targets := make([]Target, 0, len(p.Targets))
	for _, t := range p.Targets {
		if t.Collection == "" {
			return Request{}, fmt.Errorf("%w: empty collection name", domain.ErrInvalidOptions)
		}
		if seen[t.Collection] {
			return Request{}, fmt.Errorf("%w: duplicate collection %q", domain.ErrInvalidOptions, t.Collection)
		}
		seen[t.Collection] = true
		if t.Limit < 0 {
			return Request{}, fmt.Errorf("%w: limit for %q must be positive", domain.ErrInvalidOptions, t.Collection)
		}
		if t.Limit == 0 {
			t.Limit = DefaultLimit
		}
		if t.Limit > MaxLimit {
			t.Limit = MaxLimit
		}
		targets = append(targets, t)
	}

	if p.FuseTopK < 0 || p.DisplayCount < 0 {
		return Request{}, fmt.Errorf("%w: fuse top_k and display count must be positive", domain.ErrInvalidOptions)
	}

	fuseTopK := p.FuseTopK
	if fuseTopK == 0 {
		fuseTopK = DefaultFuseTopK
	}
	if fuseTopK > MaxLimit {
		fuseTopK = MaxLimit
	}

	threshold := DefaultThreshold
	if p.Threshold != nil {
		threshold = *p.Threshold
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return Request{}, fmt.Errorf("%w: threshold must be finite", domain.ErrInvalidOptions)
	}

	display := p.DisplayCount
	if display == 0 {
		display = DefaultDisplayCount
	}
	if display > MaxDisplayCount {
		display = MaxDisplayCount
	}

	return Request{
		text:         text,
		targets:      targets,
		fuse:         p.Fuse,
		fuseTopK:     fuseTopK,
		rerank:       p.Rerank,
		threshold:    threshold,
		displayCount: display,
	}, nil
}

// Text returns the query text.
func (r *Request) Text() string { return r.text }

// Targets returns the collections to search in canonical order.
func (r *Request) Targets() []Target { return r.targets }

// Fuse reports whether entity-level fusion is enabled.
func (r *Request) Fuse() bool { return r.fuse }

// FuseTopK returns the fused list size.
func (r *Request) FuseTopK() int { return r.fuseTopK }

// Rerank reports whether relevance reranking is enabled.
func (r *Request) Rerank() bool { return r.rerank }

// Threshold returns the display score threshold.
func (r *Request) Threshold() float64 { return r.threshold }

// DisplayCount returns the maximum number of displayed results.
func (r *Request) DisplayCount() int { return r.displayCount }
