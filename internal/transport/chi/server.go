// Package chi exposes the query pipeline over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/query"
	"github.com/kailas-cloud/vecfuse/internal/metrics"
	"github.com/kailas-cloud/vecfuse/internal/usecase/evaluation"
	healthuc "github.com/kailas-cloud/vecfuse/internal/usecase/health"
	"github.com/kailas-cloud/vecfuse/internal/usecase/pipeline"
	"github.com/kailas-cloud/vecfuse/internal/version"
)

const maxBodyBytes = 1 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Defaults fill query options the request leaves unset.
type Defaults struct {
	Targets      []query.Target
	Fuse         bool
	FuseTopK     int
	Rerank       bool
	Threshold    *float64
	DisplayCount int
}

// Server serves the query, health and metrics endpoints.
type Server struct {
	queries       QueryService
	health        *healthuc.Service
	defaults      Defaults
	logger        *zap.Logger
	errorHandlers []errorHandler
	origins       []string
}

// NewServer creates an HTTP API server.
func NewServer(queries QueryService, health *healthuc.Service, defaults Defaults, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queries:  queries,
		health:   health,
		defaults: defaults,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrEmptyQuery, http.StatusBadRequest, ErrorCodeEmptyQuery),
		sentinelHandler(domain.ErrInvalidOptions, http.StatusBadRequest, ErrorCodeInvalidOptions),
		sentinelHandler(domain.ErrUnknownCollection, http.StatusBadRequest, ErrorCodeUnknownCollection),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, ErrorCodeVectorDimMismatch),
		sentinelHandler(domain.ErrEmbeddingProviderError,
			http.StatusBadGateway, ErrorCodeEmbeddingProviderError),
		sentinelHandler(domain.ErrRerankIncomplete, http.StatusBadGateway, ErrorCodeRerankIncomplete),
		sentinelHandler(domain.ErrRerankProviderError, http.StatusBadGateway, ErrorCodeRerankProviderError),
	}
	return s
}

// Handler builds the router with the request middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	if len(s.origins) > 0 {
		r.Use(corsMiddleware(s.origins))
	}
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/v1/query", s.QueryGet)
	r.Post("/v1/query", s.QueryPost)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorCodeBadRequest, "not found")
	})
	return r
}

// WithAllowedOrigins enables CORS for browser clients served from origins.
func (s *Server) WithAllowedOrigins(origins ...string) *Server {
	s.origins = origins
	return s
}

// QueryGet handles GET /v1/query.
func (s *Server) QueryGet(w http.ResponseWriter, r *http.Request) {
	params, err := bindQueryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid query parameters: "+err.Error())
		return
	}

	req := QueryRequest{
		Query:        params.Q,
		Fuse:         params.Fuse,
		FuseTopK:     params.TopK,
		Rerank:       params.Rerank,
		Threshold:    params.Threshold,
		DisplayCount: params.Display,
		Debug:        params.Debug != nil && *params.Debug,
	}
	switch {
	case params.Collections != nil:
		for _, c := range *params.Collections {
			req.Collections = append(req.Collections, CollectionTarget{Name: c, Limit: params.Limit})
		}
	case params.Limit != nil:
		// limit alone applies to the default collections.
		for _, t := range s.defaults.Targets {
			req.Collections = append(req.Collections, CollectionTarget{Name: t.Collection, Limit: params.Limit})
		}
	}
	s.query(w, r, &req)
}

// QueryPost handles POST /v1/query.
func (s *Server) QueryPost(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	s.query(w, r, &req)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, req *QueryRequest) {
	p, err := s.params(req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	res, err := s.queries.Query(r.Context(), p)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if res.Tokens > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(res.Tokens))
	}
	writeJSON(w, http.StatusOK, queryResponse(&res, req.Debug))
}

// params merges the request with the server defaults. Depths the client sets
// must be positive.
func (s *Server) params(req *QueryRequest) (query.Params, error) {
	p := query.Params{
		Text:         req.Query,
		Targets:      s.defaults.Targets,
		Fuse:         s.defaults.Fuse,
		FuseTopK:     s.defaults.FuseTopK,
		Rerank:       s.defaults.Rerank,
		Threshold:    s.defaults.Threshold,
		DisplayCount: s.defaults.DisplayCount,
	}
	if len(req.Collections) > 0 {
		p.Targets = make([]query.Target, len(req.Collections))
		for i, c := range req.Collections {
			p.Targets[i] = query.Target{Collection: c.Name}
			if c.Limit != nil {
				limit, err := query.Depth("limit", *c.Limit)
				if err != nil {
					return query.Params{}, err
				}
				p.Targets[i].Limit = limit
			}
		}
	}
	if req.Fuse != nil {
		p.Fuse = *req.Fuse
	}
	if req.FuseTopK != nil {
		topK, err := query.Depth("fuse_top_k", *req.FuseTopK)
		if err != nil {
			return query.Params{}, err
		}
		p.FuseTopK = topK
	}
	if req.Rerank != nil {
		p.Rerank = *req.Rerank
	}
	if req.Threshold != nil {
		p.Threshold = req.Threshold
	}
	if req.DisplayCount != nil {
		display, err := query.Depth("display_count", *req.DisplayCount)
		if err != nil {
			return query.Params{}, err
		}
		p.DisplayCount = display
	}
	return p, nil
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	cols := make([]CollectionHealth, len(report.Collections))
	for i, c := range report.Collections {
		cols[i] = CollectionHealth{
			Name:      c.Name,
			Backend:   c.Backend,
			Location:  c.Location,
			Exists:    c.Exists,
			Points:    c.Points,
			Lines:     c.Lines,
			SizeBytes: c.SizeBytes,
			Error:     c.Err,
		}
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:      string(report.Status),
		Version:     version.Version,
		Checks:      checks,
		Collections: cols,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func bindQueryParams(r *http.Request) (QueryParams, error) {
	var p QueryParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "q", q, &p.Q); err != nil {
		return p, err //nolint:wrapcheck // message is shown to the client as is
	}
	if err := runtime.BindQueryParameter("form", false, false, "collections", q, &p.Collections); err != nil {
		return p, err //nolint:wrapcheck
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &p.Limit); err != nil {
		return p, err //nolint:wrapcheck
	}
	if err := runtime.BindQueryParameter("form", true, false, "fuse", q, &p.Fuse); err != nil {
		return p, err //nolint:wrapcheck
	}
	if err := runtime.BindQueryParameter("form", true, false, "top_k", q, &p.TopK); err != nil {
		return p, err //nolint:wrapcheck
	}
	if err := runtime.BindQueryParameter("form", true, false, "rerank", q, &p.Rerank); err != nil {
		return p, err //nolint:wrapcheck
	}
	if err := runtime.BindQueryParameter("form", true, false, "threshold", q, &p.Threshold); err != nil {
		return p, err //nolint:wrapcheck
	}
	if err := runtime.BindQueryParameter("form", true, false, "display", q, &p.Display); err != nil {
		return p, err //nolint:wrapcheck
	}
	if err := runtime.BindQueryParameter("form", true, false, "debug", q, &p.Debug); err != nil {
		return p, err //nolint:wrapcheck
	}
	return p, nil
}

func queryResponse(res *pipeline.Result, debug bool) QueryResponse {
	perSource := make(map[int64]map[string]float64, len(res.Fused))
	for i := range res.Fused {
		perSource[res.Fused[i].EntityID] = res.Fused[i].PerSourceScores
	}

	pres := res.Presentation
	items := make([]ResultItem, len(pres.Items))
	for i := range pres.Items {
		c := &pres.Items[i]
		v := evaluation.VendorOf(c.Payload)
		item := ResultItem{
			Rank:    i + 1,
			Key:     c.Key,
			Score:   c.Score,
			Source:  c.Source,
			Name:    v.Name,
			Email:   v.Email,
			Status:  v.Status,
			Payload: c.Payload,
		}
		if res.Fused != nil || c.EntityID != 0 {
			id := c.EntityID
			item.EntityID = &id
			item.PerSourceScores = perSource[id]
		}
		if res.Reranked {
			prior := c.PriorScore
			item.PriorScore = &prior
		}
		items[i] = item
	}

	branches := make([]BranchInfo, len(res.Branches))
	for i := range res.Branches {
		b := &res.Branches[i]
		info := BranchInfo{
			Collection: b.Collection,
			Source:     b.Source,
			Status:     string(b.Status),
			Hits:       len(b.Hits),
			Diagnostic: string(b.Diagnostic),
			DurationMS: float64(b.Duration.Microseconds()) / 1000,
		}
		if b.Err != nil {
			info.Error = safeDomainMessage(b.Err)
		}
		branches[i] = info
	}

	resp := QueryResponse{
		Query:      res.Query,
		Mode:       string(pres.Mode),
		Threshold:  pres.Threshold,
		Considered: pres.Considered,
		Reranked:   res.Reranked,
		Items:      items,
		Branches:   branches,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
	if debug {
		resp.Debug = make([]DebugHit, len(res.Debug))
		for i, h := range res.Debug {
			resp.Debug[i] = DebugHit{Collection: h.Collection, ID: h.ID, Score: h.Score}
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	var dim *domain.DimMismatchError
	if errors.As(err, &dim) {
		return dim.Error()
	}
	sentinels := []error{
		domain.ErrEmptyQuery,
		domain.ErrInvalidOptions,
		domain.ErrUnknownCollection,
		domain.ErrEmbeddingProviderError,
		domain.ErrRerankIncomplete,
		domain.ErrRerankProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
