package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := NewHTTPMetrics(mp.Meter("test"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var sum metricdata.Sum[int64]
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "termlab_http_requests_total" {
				sum = m.Data.(metricdata.Sum[int64])
			}
		}
	}
	require.Len(t, sum.DataPoints, 1, "one series per route, not per session")
	dp := sum.DataPoints[0]
	assert.Equal(t, int64(3), dp.Value)
	path, _ := dp.Attributes.Value("path")
	assert.Equal(t, "/sessions/{id}", path.AsString())
	status, _ := dp.Attributes.Value("status")
	assert.Equal(t, int64(http.StatusTeapot), status.AsInt64())
}

func TestAccessLoggerAddsSession(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(AccessLogger(log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Post("/sessions/{id}/exec", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{}")) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, buf.String(), "GET /health 200 2B")
	assert.NotContains(t, buf.String(), "session_id")

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/sessions/abc/exec", nil))
	assert.Contains(t, buf.String(), `"path":"/sessions/{id}/exec"`)
	assert.Contains(t, buf.String(), `"session_id":"abc"`)
}

func TestNoopHTTPMetrics(t *testing.T) {
	called := false
	h := NoopHTTPMetrics()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
