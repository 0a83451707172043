package server

import (
	"net/http"

	"github.com/aixgo-dev/promdoc/internal/assets"
)

// Route labels. They double as metric labels and span names, so the set
// must stay small and fixed.
const (
	RouteIndex    = "index"
	RouteJS       = "js"
	RouteConfig   = "config"
	RouteHealthy  = "healthy"
	RouteReady    = "ready"
	RouteReload   = "reload"
	RouteQuit     = "quit"
	RouteNotFound = "not_found"
)

type route struct {
	name   string
	handle http.HandlerFunc
}

// Router maps exact request paths to responses. Matching is case-sensitive,
// ignores the method and the query string, and does no path cleaning or
// percent-decoding.
type Router struct {
	store  *assets.Store
	routes map[string]route

	// encodeConfig is swapped in tests to exercise the failure branch
	encodeConfig func(assets.ClientConfig) ([]byte, error)
}

// NewRouter creates a router serving store
func NewRouter(store *assets.Store) *Router {
	rt := &Router{
		store:        store,
		encodeConfig: assets.ClientConfig.Marshal,
	}
	rt.routes = map[string]route{
		"/":          {RouteIndex, rt.serveAsset(store.Index())},
		"/js":        {RouteJS, rt.serveAsset(store.Script())},
		"/config":    {RouteConfig, rt.serveConfig},
		"/-/healthy": {RouteHealthy, serveOK},
		"/-/ready":   {RouteReady, serveOK},
		"/-/reload":  {RouteReload, serveStatus(http.StatusNotImplemented)},
		"/-/quit":    {RouteQuit, serveStatus(http.StatusNotImplemented)},
	}
	return rt
}

// RequestPath returns the path exactly as sent on the request line, before
// percent-decoding, so "/%63onfig" does not match "/config".
func RequestPath(r *http.Request) string {
	return r.URL.EscapedPath()
}

// Route returns the label of the route matching the raw request path
func (rt *Router) Route(path string) string {
	if r, ok := rt.routes[path]; ok {
		return r.name
	}
	return RouteNotFound
}

// ServeHTTP implements http.Handler
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if route, ok := rt.routes[RequestPath(r)]; ok {
		route.handle(w, r)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (rt *Router) serveAsset(asset assets.StaticAsset) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", asset.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = asset.WriteTo(w)
	}
}

func (rt *Router) serveConfig(w http.ResponseWriter, r *http.Request) {
	data, err := rt.encodeConfig(rt.store.ClientConfig())
	if err != nil {
		noContentType(w)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(err.Error()))
		return
	}

	w.Header().Set("Content-Type", assets.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func serveOK(w http.ResponseWriter, r *http.Request) {
	noContentType(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func serveStatus(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

// noContentType keeps net/http from sniffing a Content-Type for the body.
// A present key with a nil value is never written to the wire.
func noContentType(w http.ResponseWriter) {
	w.Header()["Content-Type"] = nil
}
