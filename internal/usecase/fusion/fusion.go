// Package fusion merges per-collection hit lists into one list keyed by entity id,
// keeping the best score per entity.
package fusion

import (
	"sort"

	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
)

// DefaultEntityField is the payload field holding the entity id.
const DefaultEntityField = "vendor_id"

// SourceHits is one collection's ranked hits with its fusion metadata.
// Order fixes the fold position; lower folds first and wins score ties.
type SourceHits struct {
	Source      string
	Order       int
	EntityField string
	Hits        []hit.Hit
}

// Result is one entity after fusion.
type Result struct {
	EntityID        int64
	BestScore       float64
	BestSource      string
	PerSourceScores map[string]float64
	Payload         payload.Map
	// Collection that produced BestScore.
	Collection string
}

// Agreement reports how many sources scored the entity.
func (r *Result) Agreement() int { return len(r.PerSourceScores) }

// Fuse folds lists in ascending Order. A new entity is initialized from its
// first hit; a later hit replaces the best only when strictly greater, and each
// source keeps its maximum. Hits without a resolvable entity id are skipped.
// The output is sorted by BestScore descending (ties keep first-seen order)
// and truncated to topK. topK <= 0 yields an empty slice.
func Fuse(lists []SourceHits, topK int) []Result {
	if topK <= 0 {
		return []Result{}
	}

	ordered := make([]SourceHits, len(lists))
	copy(ordered, lists)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	index := make(map[int64]int)
	var results []Result

	for _, list := range ordered {
		field := list.EntityField
		if field == "" {
			field = DefaultEntityField
		}
		for i := range list.Hits {
			h := &list.Hits[i]
			id, ok := h.Payload.EntityID(field)
			if !ok {
				continue
			}
			source := sourceLabel(list.Source, h)

			pos, seen := index[id]
			if !seen {
				index[id] = len(results)
				results = append(results, Result{
					EntityID:        id,
					BestScore:       h.Score,
					BestSource:      source,
					PerSourceScores: map[string]float64{source: h.Score},
					Payload:         h.Payload,
					Collection:      h.Collection,
				})
				continue
			}

			r := &results[pos]
			if prev, ok := r.PerSourceScores[source]; !ok || h.Score > prev {
				r.PerSourceScores[source] = h.Score
			}
			if h.Score > r.BestScore {
				r.BestScore = h.Score
				r.BestSource = source
				r.Payload = h.Payload
				r.Collection = h.Collection
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].BestScore > results[j].BestScore })
	if len(results) > topK {
		results = results[:topK]
	}
	if results == nil {
		results = []Result{}
	}
	return results
}

// sourceLabel names the source of a hit: the list label, or the payload
// "source" tag when the list is unlabeled.
func sourceLabel(label string, h *hit.Hit) string {
	if label != "" {
		return label
	}
	if s, ok := h.Payload["source"].AsString(); ok && s != "" {
		return s
	}
	return h.Collection
}
