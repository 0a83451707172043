package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/promdoc/internal/assets"
)

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRouter_SupportedPaths(t *testing.T) {
	store := assets.NewStore(nil)
	router := NewRouter(store)

	tests := []struct {
		path        string
		contentType string
		body        []byte
	}{
		{"/", "text/html; charset=utf-8", store.Index().Bytes()},
		{"/js", "text/javascript; charset=utf-8", store.Script().Bytes()},
		{"/config", "application/json; charset=utf-8", []byte(`{"prometheus_urls":["http://localhost:9090"]}`)},
		{"/-/healthy", "", []byte("OK")},
		{"/-/ready", "", []byte("OK")},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(router, http.MethodGet, tt.path)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.body, rec.Body.Bytes())
		})
	}
}

func TestRouter_NotImplemented(t *testing.T) {
	router := NewRouter(assets.NewStore(nil))

	for _, path := range []string{"/-/reload", "/-/quit"} {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
			t.Run(method+" "+path, func(t *testing.T) {
				// Repeated calls change nothing
				for i := 0; i < 3; i++ {
					rec := serve(router, method, path)
					assert.Equal(t, http.StatusNotImplemented, rec.Code)
					assert.Empty(t, rec.Body.Bytes())
					assert.Empty(t, rec.Header().Get("Content-Type"))
				}
			})
		}
	}

	// Still serving normally afterwards
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/-/ready").Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := NewRouter(assets.NewStore(nil))

	paths := []string{
		"/nope",
		"/Config",
		"/config/extra",
		"/config/",
		"/js/",
		"/JS",
		"/index.html",
		"/-/",
		"/-/healthy/",
		"/-/Ready",
		"//",
		"/%63onfig",
		"/-/%68ealthy",
		"/%6As",
		"/-%2Freload",
		"/-/qui%74",
		"/%2F",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := serve(router, http.MethodGet, path)

			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Empty(t, rec.Body.Bytes())
			assert.Empty(t, rec.Header().Get("Content-Type"))
		})
	}
}

func TestRouter_IgnoresMethodAndQuery(t *testing.T) {
	router := NewRouter(assets.NewStore(nil))

	for _, method := range []string{http.MethodPost, http.MethodDelete, "BREW"} {
		rec := serve(router, method, "/config?pretty=true")
		assert.Equal(t, http.StatusOK, rec.Code, method)
		assert.JSONEq(t, `{"prometheus_urls":["http://localhost:9090"]}`, rec.Body.String())
	}

	rec := serve(router, http.MethodGet, "/-/healthy?x=1")
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRouter_ConfigEncodeFailure(t *testing.T) {
	router := NewRouter(assets.NewStore(nil))
	router.encodeConfig = func(assets.ClientConfig) ([]byte, error) {
		return nil, errors.New("json: unsupported value")
	}

	rec := serve(router, http.MethodGet, "/config")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "json: unsupported value", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Type"))

	// Other routes are unaffected
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/").Code)
}

func TestRouter_ConfigFromStore(t *testing.T) {
	router := NewRouter(assets.NewStore([]string{"http://prom-a:9090", "http://prom-b:9090"}))

	rec := serve(router, http.MethodGet, "/config")

	var cfg assets.ClientConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, []string{"http://prom-a:9090", "http://prom-b:9090"}, cfg.PrometheusURLs)
}

func TestRouter_ConfigStableUnderConcurrency(t *testing.T) {
	router := NewRouter(assets.NewStore(nil))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := serve(router, http.MethodGet, "/config")
			var cfg assets.ClientConfig
			if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			if len(cfg.PrometheusURLs) != 1 || cfg.PrometheusURLs[0] != "http://localhost:9090" {
				t.Errorf("unexpected prometheus_urls %v", cfg.PrometheusURLs)
			}
		}()
	}
	wg.Wait()
}

func TestRouter_Route(t *testing.T) {
	router := NewRouter(assets.NewStore(nil))

	tests := map[string]string{
		"/":          RouteIndex,
		"/js":        RouteJS,
		"/config":    RouteConfig,
		"/-/healthy": RouteHealthy,
		"/-/ready":   RouteReady,
		"/-/reload":  RouteReload,
		"/-/quit":    RouteQuit,
		"/nope":      RouteNotFound,
		"/Config":    RouteNotFound,
	}

	for path, want := range tests {
		assert.Equal(t, want, router.Route(path), path)
	}
}

func TestRouter_MatchesRawPath(t *testing.T) {
	router := NewRouter(assets.NewStore(nil))

	tests := map[string]string{
		"/config":       RouteConfig,
		"/config?x=%20": RouteConfig,
		"/%63onfig":     RouteNotFound,
		"/-/%68ealthy":  RouteNotFound,
		"/-%2Freload":   RouteNotFound,
	}

	for target, want := range tests {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		assert.Equal(t, want, router.Route(RequestPath(req)), target)
	}
}

func TestRouter_AsteriskTarget(t *testing.T) {
	router := NewRouter(assets.NewStore(nil))

	rec := serve(router, http.MethodOptions, "*")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}
