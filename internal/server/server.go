// Package server implements the promdoc UI listener: a fixed route table
// behind an HTTP/1.1 server that answers one request per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aixgo-dev/promdoc/internal/assets"
	"github.com/aixgo-dev/promdoc/pkg/config"
	pkgobs "github.com/aixgo-dev/promdoc/pkg/observability"
	"github.com/aixgo-dev/promdoc/pkg/security"
)

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records request and connection metrics into m
func WithMetrics(m *pkgobs.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter throttles clients through limiter
func WithRateLimiter(limiter *security.RateLimiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// Server owns the UI listener lifetime: bind, accept, dispatch, shut down.
type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *pkgobs.Metrics
	limiter *security.RateLimiter
	router  *Router
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server for cfg serving store
func New(cfg *config.Config, store *assets.Store, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: zerolog.Nop(),
		router: NewRouter(store),
	}
	for _, opt := range opts {
		opt(s)
	}

	var h http.Handler = s.router
	h = throttle(s.limiter)(h)
	h = instrument(s.logger, s.metrics, s.router.Route)(h)
	h = withRequestID(h)
	s.handler = h

	return s
}

// Handler returns the full middleware chain in front of the router
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the TCP listener. The returned error wraps the net error,
// so errors.Is works against syscall errors such as EADDRINUSE.
func (s *Server) Listen() error {
	addr := s.cfg.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = &acceptListener{Listener: ln, onError: s.acceptError}
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msgf("Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ready reports an error until the listener is bound
func (s *Server) Ready(context.Context) error {
	if s.Addr() == nil {
		return errors.New("listener not bound")
	}
	return nil
}

// Run binds and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is done. Each connection is handled
// on its own goroutine and carries exactly one request. On cancellation
// the listener closes and in-flight requests run to completion, bounded by
// the shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.Timeouts.ReadHeader,
		ReadTimeout:       s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		ConnState:         s.trackConn,

		// OPTIONS * goes to the router like any other request
		DisableGeneralOptionsHandler: true,
		ErrorLog:          stdlog.New(httpErrorWriter{s.logger}, "", 0),
	}
	httpServer.SetKeepAlivesEnabled(false)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		s.logger.Info().Msg("Interrupt signal received.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeouts.Shutdown)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Dur("timeout", s.cfg.Timeouts.Shutdown).Msg("Shutdown timed out, closing remaining connections")
		_ = httpServer.Close()
	}
	<-errCh

	s.logger.Info().Msg("Server stopped")
	return nil
}

func (s *Server) trackConn(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metrics.ConnOpened()
	case http.StateClosed, http.StateHijacked:
		s.metrics.ConnClosed()
	}
	s.logger.Trace().Str("remote", conn.RemoteAddr().String()).Str("state", state.String()).Msg("conn")
}

// acceptError is called for every failed Accept. http.Server retries
// temporary errors itself; anything else ends Serve.
func (s *Server) acceptError(err error) {
	if errors.Is(err, net.ErrClosed) {
		return
	}
	s.metrics.AcceptError()
	s.logger.Warn().Err(err).Msg("Accept failed")
}

// acceptListener reports Accept errors before handing them to http.Server
type acceptListener struct {
	net.Listener
	onError func(error)
}

func (l *acceptListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		l.onError(err)
	}
	return conn, err
}

// httpErrorWriter routes net/http's internal error log (malformed requests,
// TLS handshakes, panics in handlers) to the structured logger.
type httpErrorWriter struct {
	logger zerolog.Logger
}

func (w httpErrorWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.logger.Debug().Str("component", "http").Msg(msg)
	return len(p), nil
}
