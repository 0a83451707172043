// Package assets holds the UI bundle and the client configuration served by promdoc.
//
// The HTML document and JavaScript bundle are produced by the UI build and
// embedded at compile time. They are treated as opaque bytes.
package assets

import (
	_ "embed"
	"encoding/json"
	"io"

	"github.com/aixgo-dev/promdoc/pkg/config"
)

//go:embed ui/dist/index.html
var indexHTML []byte

//go:embed ui/dist/js/index.min.js
var indexJS []byte

// Content types used by the router
const (
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypeJS   = "text/javascript; charset=utf-8"
	ContentTypeJSON = "application/json; charset=utf-8"
)

// StaticAsset is an immutable payload paired with its content type.
type StaticAsset struct {
	ContentType string
	body        []byte
}

// Len returns the payload size in bytes
func (a StaticAsset) Len() int {
	return len(a.body)
}

// Bytes returns a copy of the payload.
func (a StaticAsset) Bytes() []byte {
	out := make([]byte, len(a.body))
	copy(out, a.body)
	return out
}

// WriteTo writes the payload to w without copying it.
func (a StaticAsset) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(a.body)
	return int64(n), err
}

// ClientConfig is the JSON document the UI fetches from /config.
type ClientConfig struct {
	PrometheusURLs []string `json:"prometheus_urls"`
}

// Marshal encodes the config as JSON.
func (c ClientConfig) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Store provides the three payloads. It is built once before serving and is
// read-only afterwards, so it is safe for concurrent use.
type Store struct {
	index          StaticAsset
	script         StaticAsset
	prometheusURLs []string
}

// NewStore creates a store around the embedded UI. An empty url list falls
// back to config.DefaultPrometheusURL.
func NewStore(prometheusURLs []string) *Store {
	urls := make([]string, len(prometheusURLs))
	copy(urls, prometheusURLs)
	if len(urls) == 0 {
		urls = []string{config.DefaultPrometheusURL}
	}

	return &Store{
		index:          StaticAsset{ContentType: ContentTypeHTML, body: indexHTML},
		script:         StaticAsset{ContentType: ContentTypeJS, body: indexJS},
		prometheusURLs: urls,
	}
}

// Index returns the HTML document
func (s *Store) Index() StaticAsset {
	return s.index
}

// Script returns the JavaScript bundle
func (s *Store) Script() StaticAsset {
	return s.script
}

// ClientConfig builds a fresh config value on every call. The returned
// value shares nothing with the store.
func (s *Store) ClientConfig() ClientConfig {
	urls := make([]string, len(s.prometheusURLs))
	copy(urls, s.prometheusURLs)
	return ClientConfig{PrometheusURLs: urls}
}

// Check reports an error when an embedded payload is missing. It backs the
// assets health check.
func (s *Store) Check() error {
	if s.index.Len() == 0 {
		return errEmptyAsset("index.html")
	}
	if s.script.Len() == 0 {
		return errEmptyAsset("js/index.min.js")
	}
	return nil
}

type errEmptyAsset string

func (e errEmptyAsset) Error() string {
	return "embedded asset " + string(e) + " is empty"
}
