package chi

import (
	"context"

	"github.com/kailas-cloud/vecfuse/internal/domain/query"
	"github.com/kailas-cloud/vecfuse/internal/usecase/pipeline"
)

// QueryService runs pipeline queries.
type QueryService interface {
	Query(ctx context.Context, p query.Params) (pipeline.Result, error)
}
