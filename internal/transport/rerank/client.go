// Package rerank scores query/document relevance through a cross-encoder
// HTTP endpoint (TEI, Jina, Cohere-compatible /rerank).
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/domain"
)

const maxErrorBody = 512

// Config holds the relevance model endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// Batch sends every candidate in one request instead of one per pair.
	Batch  bool
	Logger *zap.Logger
}

// Client scores one query/document pair per request.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
	logger  *zap.Logger
}

// BatchClient scores all candidates of a query in one request.
type BatchClient struct {
	*Client
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index          int      `json:"index"`
	Score          *float64 `json:"score,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type errorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// New creates a relevance model client. With cfg.Batch set the returned scorer
// also implements domain.BatchScorer.
func New(cfg Config) domain.PairScorer {
	c := newClient(cfg)
	if cfg.Batch {
		return &BatchClient{Client: c}
	}
	return c
}

func newClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		logger:  logger,
	}
}

// ScorePair implements domain.PairScorer.
func (c *Client) ScorePair(ctx context.Context, query, document string) (float64, error) {
	results, err := c.rerank(ctx, query, []string{document})
	if err != nil {
		return 0, err
	}
	for _, r := range results {
		if r.Index == 0 {
			return r.Score, nil
		}
	}
	return 0, fmt.Errorf("%w: no score for document", domain.ErrRerankIncomplete)
}

// ScoreBatch implements domain.BatchScorer.
func (c *BatchClient) ScoreBatch(
	ctx context.Context, query string, documents []string,
) ([]domain.RelevanceScore, error) {
	return c.rerank(ctx, query, documents)
}

func (c *Client) rerank(ctx context.Context, query string, documents []string) ([]domain.RelevanceScore, error) {
	body, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrRerankProviderError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRerankProviderError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail := readErrorDetail(resp.Body)
		c.logger.Warn("rerank request rejected",
			zap.String("model", c.model),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail),
		)
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrRerankProviderError, resp.StatusCode, detail)
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrRerankProviderError, err)
	}

	scores := make([]domain.RelevanceScore, 0, len(out.Results))
	for _, r := range out.Results {
		switch {
		case r.Score != nil:
			scores = append(scores, domain.RelevanceScore{Index: r.Index, Score: *r.Score})
		case r.RelevanceScore != nil:
			scores = append(scores, domain.RelevanceScore{Index: r.Index, Score: *r.RelevanceScore})
		default:
			return nil, fmt.Errorf("%w: result %d has no score", domain.ErrRerankIncomplete, r.Index)
		}
	}
	return scores, nil
}

// readErrorDetail extracts a short message from an error body.
func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return "empty body"
	}
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		var s string
		if json.Unmarshal(e.Error, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(e.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
