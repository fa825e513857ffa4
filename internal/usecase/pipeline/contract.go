package pipeline

import (
	"context"

	"github.com/kailas-cloud/vecfuse/internal/domain/query"
	"github.com/kailas-cloud/vecfuse/internal/usecase/rerank"
	"github.com/kailas-cloud/vecfuse/internal/usecase/retrieval"
)

// Retriever fans the query vector out to the requested collections.
type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, targets []query.Target) ([]retrieval.Branch, error)
	Lookup(name string) (retrieval.Collection, bool)
}

// Reranker re-scores candidates with a relevance model.
type Reranker interface {
	Enabled() bool
	Rerank(ctx context.Context, query string, candidates []rerank.Candidate) ([]rerank.Candidate, error)
}
