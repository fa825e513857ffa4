package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get(RouteQuery, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"mode":"thresholded"}`))
	})
	r.Post(RouteQuery, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	r.Get(RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get(RouteMetrics, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return r
}

func serve(r http.Handler, method, target string) int {
	req := httptest.NewRequest(method, target, http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr.Code
}

func TestMiddleware_RouteLabels(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		method string
		target string
		route  string
		code   string
	}{
		{"GET", "/v1/query?q=diesel+supplier&limit=5", RouteQuery, "2xx"},
		{"POST", "/v1/query", RouteQuery, "4xx"},
		{"GET", "/health", RouteHealth, "5xx"},
		{"GET", "/metrics", RouteMetrics, "2xx"},
		{"GET", "/v1/vendors/7", routeOther, "4xx"},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			counter := httpRequestsTotal.WithLabelValues(tc.method, tc.route, tc.code)
			before := testutil.ToFloat64(counter)

			serve(r, tc.method, tc.target)

			if got := testutil.ToFloat64(counter) - before; got != 1 {
				t.Errorf("requests_total{%s,%s,%s} grew by %f, want 1", tc.method, tc.route, tc.code, got)
			}
		})
	}
}

func TestMiddleware_QueryStringDoesNotSplitSeries(t *testing.T) {
	r := newTestRouter()
	counter := httpRequestsTotal.WithLabelValues("GET", RouteQuery, "2xx")
	before := testutil.ToFloat64(counter)

	for _, q := range []string{"a", "b", "c"} {
		if code := serve(r, "GET", "/v1/query?q="+q); code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("expected 3 requests on one series, got %f", got)
	}
	if n := testutil.CollectAndCount(httpRequestDuration); n == 0 {
		t.Error("expected http_request_duration_seconds to have observations")
	}
}

func TestMiddleware_InFlightReturnsToZero(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())

	var during float64
	r.Get(RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		during = testutil.ToFloat64(httpInFlight)
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.ToFloat64(httpInFlight)
	serve(r, "GET", "/health")

	if during != before+1 {
		t.Errorf("expected in-flight %f while serving, got %f", before+1, during)
	}
	if after := testutil.ToFloat64(httpInFlight); after != before {
		t.Errorf("expected in-flight back to %f, got %f", before, after)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "other"},
		{"/v1/query", "/v1/query"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/v1/vendors/{id}", "other"},
		{"/*", "other"},
	}

	for _, tc := range tests {
		if got := routeLabel(tc.input); got != tc.expected {
			t.Errorf("routeLabel(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{400, "4xx"},
		{422, "4xx"},
		{503, "5xx"},
		{0, "unknown"},
		{600, "unknown"},
	}

	for _, tc := range tests {
		if got := statusClass(tc.status); got != tc.expected {
			t.Errorf("statusClass(%d) = %q, want %q", tc.status, got, tc.expected)
		}
	}
}
