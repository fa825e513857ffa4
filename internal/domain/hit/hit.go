// Package hit defines similarity search results.
package hit

import (
	"sort"

	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
)

// Diagnostic explains an empty or degraded result.
type Diagnostic string

const (
	// DiagnosticNone marks a regular result.
	DiagnosticNone Diagnostic = ""
	// DiagnosticCollectionMissing marks a collection that does not exist yet.
	DiagnosticCollectionMissing Diagnostic = "collection_missing"
)

// Hit is one similarity match from a single collection.
type Hit struct {
	ID         int64
	Score      float64
	Payload    payload.Map
	Collection string
}

// Result is the ranked output of one collection search.
type Result struct {
	Hits       []Hit
	Diagnostic Diagnostic
}

// Missing returns an empty result for an absent collection.
func Missing() Result {
	return Result{Hits: []Hit{}, Diagnostic: DiagnosticCollectionMissing}
}

// SortByScore orders hits by score descending. Equal scores keep their input order.
func SortByScore(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}

// Truncate returns at most n hits. n <= 0 yields an empty slice.
func Truncate(hits []Hit, n int) []Hit {
	if n <= 0 {
		return []Hit{}
	}
	if len(hits) > n {
		return hits[:n]
	}
	return hits
}
