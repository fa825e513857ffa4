package chi

import "github.com/kailas-cloud/vecfuse/internal/domain/payload"

// ErrorCode identifies an error class in API responses.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest             ErrorCode = "bad_request"
	ErrorCodeEmptyQuery             ErrorCode = "empty_query"
	ErrorCodeInvalidOptions         ErrorCode = "invalid_options"
	ErrorCodeUnknownCollection      ErrorCode = "unknown_collection"
	ErrorCodeVectorDimMismatch      ErrorCode = "vector_dim_mismatch"
	ErrorCodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	ErrorCodeRerankProviderError    ErrorCode = "rerank_provider_error"
	ErrorCodeRerankIncomplete       ErrorCode = "rerank_incomplete"
	ErrorCodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// CollectionTarget selects a collection and its fetch depth. A nil limit takes
// the collection default.
type CollectionTarget struct {
	Name  string `json:"name"`
	Limit *int   `json:"limit,omitempty"`
}

// QueryRequest is the POST /v1/query body. Unset fields take the server defaults.
type QueryRequest struct {
	Query        string             `json:"query"`
	Collections  []CollectionTarget `json:"collections,omitempty"`
	Fuse         *bool              `json:"fuse,omitempty"`
	FuseTopK     *int               `json:"fuse_top_k,omitempty"`
	Rerank       *bool              `json:"rerank,omitempty"`
	Threshold    *float64           `json:"threshold,omitempty"`
	DisplayCount *int               `json:"display_count,omitempty"`
	Debug        bool               `json:"debug,omitempty"`
}

// QueryParams are the GET /v1/query query-string parameters.
type QueryParams struct {
	Q           string    `json:"q"`
	Collections *[]string `json:"collections,omitempty"`
	Limit       *int      `json:"limit,omitempty"`
	Fuse        *bool     `json:"fuse,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
	Rerank      *bool     `json:"rerank,omitempty"`
	Threshold   *float64  `json:"threshold,omitempty"`
	Display     *int      `json:"display,omitempty"`
	Debug       *bool     `json:"debug,omitempty"`
}

// ResultItem is one displayed result.
type ResultItem struct {
	Rank            int                `json:"rank"`
	Key             string             `json:"key"`
	EntityID        *int64             `json:"entity_id,omitempty"`
	Score           float64            `json:"score"`
	PriorScore      *float64           `json:"prior_score,omitempty"`
	Source          string             `json:"source,omitempty"`
	PerSourceScores map[string]float64 `json:"per_source_scores,omitempty"`
	Name            string             `json:"name,omitempty"`
	Email           string             `json:"email,omitempty"`
	Status          string             `json:"status,omitempty"`
	Payload         payload.Map        `json:"payload"`
}

// BranchInfo summarizes one collection search.
type BranchInfo struct {
	Collection string  `json:"collection"`
	Source     string  `json:"source"`
	Status     string  `json:"status"`
	Hits       int     `json:"hits"`
	Diagnostic string  `json:"diagnostic,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// DebugHit is a raw similarity hit shown regardless of the threshold.
type DebugHit struct {
	Collection string  `json:"collection"`
	ID         int64   `json:"id"`
	Score      float64 `json:"score"`
}

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	Query      string       `json:"query"`
	Mode       string       `json:"mode"`
	Threshold  float64      `json:"threshold"`
	Considered int          `json:"considered"`
	Reranked   bool         `json:"reranked"`
	Items      []ResultItem `json:"items"`
	Branches   []BranchInfo `json:"branches"`
	Debug      []DebugHit   `json:"debug,omitempty"`
	DurationMS float64      `json:"duration_ms"`
}

// CollectionHealth is the preflight view of one collection.
type CollectionHealth struct {
	Name      string `json:"name"`
	Backend   string `json:"backend"`
	Location  string `json:"location,omitempty"`
	Exists    bool   `json:"exists"`
	Points    int    `json:"points"`
	Lines     int    `json:"lines,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status      string             `json:"status"`
	Version     string             `json:"version"`
	Checks      map[string]string  `json:"checks"`
	Collections []CollectionHealth `json:"collections"`
}
