package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/vecfuse/internal/domain"
)

func newServer(t *testing.T, handler func(req rerankRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_BatchSelection(t *testing.T) {
	_, ok := New(Config{BaseURL: "http://x"}).(domain.BatchScorer)
	assert.False(t, ok)

	_, ok = New(Config{BaseURL: "http://x", Batch: true}).(domain.BatchScorer)
	assert.True(t, ok)
}

func TestScorePair(t *testing.T) {
	srv := newServer(t, func(req rerankRequest) (int, string) {
		assert.Equal(t, "bge-reranker", req.Model)
		assert.Equal(t, "diesel supplier", req.Query)
		assert.Equal(t, []string{"Acme Fuel"}, req.Documents)
		return http.StatusOK, `{"results":[{"index":0,"score":0.87}]}`
	})

	c := New(Config{BaseURL: srv.URL + "/", Model: "bge-reranker"})
	score, err := c.ScorePair(context.Background(), "diesel supplier", "Acme Fuel")
	require.NoError(t, err)
	assert.InDelta(t, 0.87, score, 1e-9)
}

func TestScoreBatch_RelevanceScoreField(t *testing.T) {
	srv := newServer(t, func(req rerankRequest) (int, string) {
		assert.Len(t, req.Documents, 2)
		return http.StatusOK, `{"results":[{"index":1,"relevance_score":0.9},{"index":0,"relevance_score":0.2}]}`
	})

	c := New(Config{BaseURL: srv.URL, Batch: true}).(domain.BatchScorer)
	scores, err := c.ScoreBatch(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []domain.RelevanceScore{{Index: 1, Score: 0.9}, {Index: 0, Score: 0.2}}, scores)
}

func TestScoreBatch_MissingScore(t *testing.T) {
	srv := newServer(t, func(rerankRequest) (int, string) {
		return http.StatusOK, `{"results":[{"index":0}]}`
	})

	c := New(Config{BaseURL: srv.URL, Batch: true}).(domain.BatchScorer)
	_, err := c.ScoreBatch(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, domain.ErrRerankIncomplete)
}

func TestScorePair_HTTPError(t *testing.T) {
	srv := newServer(t, func(rerankRequest) (int, string) {
		return http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`
	})

	c := New(Config{BaseURL: srv.URL})
	_, err := c.ScorePair(context.Background(), "q", "d")
	require.ErrorIs(t, err, domain.ErrRerankProviderError)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, err.Error(), "429")
}

func TestScorePair_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := c.ScorePair(context.Background(), "q", "d")
	assert.ErrorIs(t, err, domain.ErrRerankProviderError)
}

func TestScorePair_BearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"results":[{"index":0,"score":1}]}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, APIKey: "secret"})
	_, err := c.ScorePair(context.Background(), "q", "d")
	require.NoError(t, err)
}

func TestReadErrorDetail(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"bad input"}`, "bad input"},
		{`{"error":"model not loaded"}`, "model not loaded"},
		{`{"error":{"message":"nested"}}`, "nested"},
		{"plain text\n", "plain text"},
		{"", "empty body"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, readErrorDetail(strings.NewReader(tt.body)))
		})
	}
}
