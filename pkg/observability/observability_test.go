package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordHTTPRequest("index", http.MethodGet, 200, 5*time.Millisecond)
	m.RecordHTTPRequest("index", http.MethodGet, 200, 5*time.Millisecond)
	m.RecordHTTPRequest("not_found", "BREW", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("index", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("not_found", "OTHER", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.httpRequestDuration))
}

func TestMetrics_Connections(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.AcceptError()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acceptErrorsTotal))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	// Must not panic
	m.RecordHTTPRequest("index", http.MethodGet, 200, time.Millisecond)
	m.ConnOpened()
	m.ConnClosed()
	m.AcceptError()
}

func TestInitMetrics_Once(t *testing.T) {
	first := InitMetrics()
	second := InitMetrics()
	assert.Same(t, first, second)
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordHTTPRequest("config", http.MethodGet, 200, time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `promdoc_http_requests_total{method="GET",route="config",status="200"} 1`)
}

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name   string
		checks []*HealthCheck
		want   HealthStatus
	}{
		{
			name: "no checks",
			want: HealthStatusHealthy,
		},
		{
			name:   "passing checks",
			checks: []*HealthCheck{PingCheck(), CriticalCheck("assets", func(context.Context) error { return nil })},
			want:   HealthStatusHealthy,
		},
		{
			name: "failing non-critical check",
			checks: []*HealthCheck{{
				Name:      "optional",
				CheckFunc: func(context.Context) error { return errors.New("flaky") },
			}},
			want: HealthStatusDegraded,
		},
		{
			name:   "failing critical check",
			checks: []*HealthCheck{PingCheck(), CriticalCheck("listener", func(context.Context) error { return errors.New("not bound") })},
			want:   HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("test")
			for _, c := range tt.checks {
				hc.RegisterCheck(c)
			}

			resp := hc.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "test", resp.Version)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterCheck(&HealthCheck{
		Name:     "slow",
		Critical: true,
		Timeout:  20 * time.Millisecond,
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["slow"].Message, "deadline")
}

func TestHealthChecker_RegisterReplaces(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterCheck(CriticalCheck("listener", func(context.Context) error { return errors.New("not bound") }))
	hc.RegisterCheck(PingCheck())
	hc.RegisterCheck(CriticalCheck("listener", func(context.Context) error { return nil }))

	resp := hc.Check(context.Background())
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Equal(t, "OK", resp.Checks["listener"].Message)
}

func TestHealthHandlers(t *testing.T) {
	healthy := NewHealthChecker("v1")
	healthy.RegisterCheck(PingCheck())

	broken := NewHealthChecker("v1")
	broken.RegisterCheck(CriticalCheck("assets", func(context.Context) error { return errors.New("empty") }))

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBody   string
	}{
		{"health ok", HealthHandler(healthy), http.StatusOK, `"status":"healthy"`},
		{"health unhealthy", HealthHandler(broken), http.StatusServiceUnavailable, `"status":"unhealthy"`},
		{"live", LivenessHandler(), http.StatusOK, `"status":"alive"`},
		{"ready", ReadinessHandler(healthy), http.StatusOK, `"status":"ready"`},
		{"not ready", ReadinessHandler(broken), http.StatusServiceUnavailable, `"status":"not ready"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).RecordHTTPRequest("index", http.MethodGet, 200, time.Millisecond)
	checker := NewHealthChecker("v1")
	checker.RegisterCheck(PingCheck())

	srv := NewServer("127.0.0.1:0", reg, checker)
	require.NoError(t, srv.Listen())
	require.NotNil(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "promdoc_http_requests_total"))

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, HealthStatusHealthy, health.Status)
	assert.Equal(t, "v1", health.Version)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not stop")
	}
}

func TestServer_ListenError(t *testing.T) {
	taken := NewServer("127.0.0.1:0", prometheus.NewRegistry(), NewHealthChecker("v1"))
	require.NoError(t, taken.Listen())
	t.Cleanup(func() { _ = taken.listener.Close() })

	srv := NewServer(taken.Addr().String(), prometheus.NewRegistry(), NewHealthChecker("v1"))
	err := srv.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind admin listener")
	assert.Nil(t, srv.Addr())
}
