// Package present applies the display threshold and fallback policy to a ranked list.
package present

import "github.com/kailas-cloud/vecfuse/internal/usecase/rerank"

// DefaultDisplayCount bounds the displayed list when no count is given.
const DefaultDisplayCount = 10

// Mode tells how the displayed items were selected.
type Mode string

// Presentation modes.
const (
	// ModeThresholded keeps items scoring at or above the threshold.
	ModeThresholded Mode = "thresholded"
	// ModeFallback shows the top items because none reached the threshold.
	ModeFallback Mode = "fallback"
)

// Presentation is the bounded list shown to the caller.
type Presentation struct {
	Mode       Mode
	Items      []rerank.Candidate
	Threshold  float64
	Considered int
}

// Apply selects the candidates to display. candidates must already be ranked.
// Items scoring >= threshold are kept in rank order; when none qualifies the
// top displayCount are shown regardless of score. The output never exceeds
// displayCount and is never nil.
func Apply(candidates []rerank.Candidate, threshold float64, displayCount int) Presentation {
	if displayCount <= 0 {
		displayCount = DefaultDisplayCount
	}

	kept := make([]rerank.Candidate, 0, min(displayCount, len(candidates)))
	for i := range candidates {
		if len(kept) == displayCount {
			break
		}
		if candidates[i].Score >= threshold {
			kept = append(kept, candidates[i])
		}
	}

	p := Presentation{
		Mode:       ModeThresholded,
		Items:      kept,
		Threshold:  threshold,
		Considered: len(candidates),
	}
	if len(kept) == 0 {
		n := min(displayCount, len(candidates))
		p.Mode = ModeFallback
		p.Items = append(make([]rerank.Candidate, 0, n), candidates[:n]...)
	}
	return p
}
