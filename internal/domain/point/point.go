// Package point defines the embedded record stored in a collection.
package point

import (
	"fmt"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
)

// Point is one embedded record. For fusable collections ID is the entity id.
type Point struct {
	ID      int64       `json:"id"`
	Vector  []float32   `json:"vector"`
	Payload payload.Map `json:"payload"`
}

// HasVector reports whether the point carries a non-empty vector.
func (p *Point) HasVector() bool { return len(p.Vector) > 0 }

// Dimension returns the dimension shared by every non-empty vector in points.
// Zero means no point has a vector.
func Dimension(collection string, points []Point) (int, error) {
	dim := 0
	for i := range points {
		n := len(points[i].Vector)
		if n == 0 {
			continue
		}
		if dim == 0 {
			dim = n
			continue
		}
		if n != dim {
			return 0, fmt.Errorf("point %d: %w", points[i].ID, domain.NewDimMismatch(collection, dim, n))
		}
	}
	return dim, nil
}
