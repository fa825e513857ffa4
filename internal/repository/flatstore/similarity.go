package flatstore

import (
	"math"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/point"
)

// Cosine returns the cosine similarity of a and b, accumulated in float64.
// A zero-norm operand yields 0. Callers guarantee equal lengths.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

// Search scores every point with a vector against q and returns at most limit
// hits ordered by score descending. Points without a vector are not candidates.
// Equal scores keep collection order. limit <= 0 yields an empty list.
func Search(points []point.Point, q []float32, limit int) ([]hit.Hit, error) {
	if limit <= 0 {
		return []hit.Hit{}, nil
	}

	hits := make([]hit.Hit, 0, len(points))
	for i := range points {
		p := &points[i]
		if !p.HasVector() {
			continue
		}
		if len(p.Vector) != len(q) {
			return nil, domain.NewDimMismatch("", len(p.Vector), len(q))
		}
		hits = append(hits, hit.Hit{
			ID:      p.ID,
			Score:   Cosine(q, p.Vector),
			Payload: p.Payload,
		})
	}

	hit.SortByScore(hits)
	return hit.Truncate(hits, limit), nil
}
