// Package server implements the benchmark HTTP server: a fixed payload
// route, an echo route and request counters.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/httpclient_benchmark/pkg/config"
	"github.com/httpclient_benchmark/pkg/content"
	"github.com/httpclient_benchmark/pkg/logger"
)

// Route paths
const (
	PathFixed      = "/fixed"
	PathEcho       = "/echo"
	PathStats      = "/stats"
	PathStatsReset = "/stats/reset"
)

const contentTypeOctetStream = "application/octet-stream"

// Server serves the benchmark routes
type Server struct {
	cfg      config.Config
	fixed    []byte
	counters Counters
	log      *logger.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	metrics    *metricsServer
	done       chan struct{}
	serveErr   error
}

// Option customizes a Server
type Option func(*Server)

// WithLogger sets the logger used for lifecycle and connection errors
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithFixedContent overrides the generated /fixed payload
func WithFixedContent(b []byte) Option {
	return func(s *Server) {
		s.fixed = b
	}
}

// New creates a server. The /fixed payload of cfg.ContentBytesSize bytes is
// generated once here and never modified afterwards.
func New(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		log: logger.Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fixed == nil {
		s.fixed = content.Random(cfg.ContentBytesSize)
	}
	return s
}

// Counters exposes the live counters
func (s *Server) Counters() *Counters {
	return &s.counters
}

// Handler returns the route handler. Routing is by exact path only; the
// method is not checked.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathFixed:
			s.counters.fixed.Add(1)
			s.counters.total.Add(1)
			writeBody(w, http.StatusOK, contentTypeOctetStream, s.fixed)
		case PathEcho:
			// a failed read is answered with 400 and not counted
			body, err := io.ReadAll(r.Body)
			if err != nil {
				s.log.Debug("server", "echo read failed from %s: %v", r.RemoteAddr, err)
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			s.counters.echo.Add(1)
			s.counters.total.Add(1)
			writeBody(w, http.StatusOK, contentTypeOctetStream, body)
		case PathStats:
			writeBody(w, http.StatusOK, contentTypeOctetStream, []byte(s.counters.Snapshot().String()))
		case PathStatsReset:
			s.counters.Reset()
			writeBody(w, http.StatusOK, contentTypeOctetStream, []byte("Ok"))
		default:
			s.counters.total.Add(1)
			writeBody(w, http.StatusNotFound, "text/plain", []byte("Resource not found: "+r.URL.Path))
		}
	})
}

func writeBody(w http.ResponseWriter, status int, contentType string, body []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Start binds the listener and serves in the background. It returns once
// the port is bound, so Addr is valid immediately afterwards.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr(), err)
	}
	if s.cfg.ServerMaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.ServerMaxConnections)
	}

	if s.cfg.MetricsAddr != "" {
		m, err := startMetrics(s.cfg.MetricsAddr, &s.counters, s.log)
		if err != nil {
			_ = ln.Close()
			return err
		}
		s.metrics = m
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		IdleTimeout:       s.cfg.ServerKeepAlive(),
		ReadHeaderTimeout: 30 * time.Second,
		ErrorLog:          log.New(debugWriter{s.log}, "", 0),
	}

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr = err
			s.log.Error("server", "serve failed: %v", err)
		}
	}()

	s.log.Info("server", "listening on %s (payload %d bytes, keep-alive %s)",
		ln.Addr(), len(s.fixed), s.cfg.ServerKeepAlive())
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the base URL, e.g. http://127.0.0.1:8989
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

// MetricsAddr returns the bound metrics address, or "" when disabled
func (s *Server) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		return ""
	}
	return s.metrics.addr()
}

// Shutdown gracefully stops the server and the metrics listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, m := s.httpServer, s.metrics
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if m != nil {
		if err := m.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	s.log.Info("server", "stopped")
	return errors.Join(errs...)
}

// Wait blocks until the server stops serving and returns any serve error
func (s *Server) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	return s.serveErr
}

// debugWriter routes net/http connection errors to the debug log
type debugWriter struct {
	log *logger.Logger
}

func (d debugWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	d.log.Debug("server", "%s", msg)
	return len(p), nil
}
