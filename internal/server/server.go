// Package server exposes the vector index over a loopback HTTP API:
// POST /embed, /search/vector and /search/text, plus GET /health and /status.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/vaultsearch/internal/config"
	"github.com/hyperjump/vaultsearch/internal/embedding"
	"github.com/hyperjump/vaultsearch/internal/models"
	"github.com/hyperjump/vaultsearch/internal/vector"
	"go.uber.org/zap"
)

const (
	defaultHost     = "127.0.0.1"
	maxBodyBytes    = 8 << 20
	shutdownTimeout = 5 * time.Second
)

// Server is the loopback query server.
type Server struct {
	index    vector.Index
	provider embedding.Provider
	live     *config.Live
	host     string
	logger   *zap.Logger

	lastRun   func() (*models.RunResult, bool)
	diskPaths []string

	router http.Handler

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHost sets the listen host. Default 127.0.0.1.
func WithHost(host string) Option {
	return func(s *Server) {
		if host != "" {
			s.host = host
		}
	}
}

// WithLastRun reports the latest sync run on /status.
func WithLastRun(fn func() (*models.RunResult, bool)) Option {
	return func(s *Server) { s.lastRun = fn }
}

// WithDiskPaths reports the combined size of paths (snapshot, ledger) on /status.
func WithDiskPaths(paths ...string) Option {
	return func(s *Server) { s.diskPaths = paths }
}

// NewServer creates a server answering queries against index. provider is used
// for query embeddings; the provider address, model and port come from live.
func NewServer(index vector.Index, provider embedding.Provider, live *config.Live, opts ...Option) *Server {
	s := &Server{
		index:    index,
		provider: provider,
		live:     live,
		host:     defaultHost,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(s.recoverJSON)
	r.Use(cors)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	r.Post("/embed", s.handleEmbed)
	r.Post("/search/vector", s.handleVectorSearch)
	r.Post("/search/text", s.handleTextSearch)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Handler returns the HTTP handler, for tests and embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// UpdateProvider switches the provider address and model used by later requests.
// The sync engine reads the same settings, so a model change should be followed by a rebuild.
func (s *Server) UpdateProvider(url, model string) {
	prev := s.live.Get()
	s.live.SetProvider(url, model)
	s.logger.Info("provider updated",
		zap.String("url", url), zap.String("model", model), zap.Bool("model_changed", prev.Model != model))
}

// Start listens on host:port and serves until ctx is cancelled or Stop is called.
// The port is read from the live settings once; a later port change needs a restart.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.live.Get().Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		case <-stopped:
		}
	}()

	s.logger.Info("query server listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
