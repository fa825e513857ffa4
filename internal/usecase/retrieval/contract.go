package retrieval

import (
	"context"

	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
)

// VectorStore is the search capability shared by the flat and remote backends.
type VectorStore interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) (hit.Result, error)
}
