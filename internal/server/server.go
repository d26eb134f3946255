// Package server exposes the command log over HTTP.
//
// Routes:
//
//	GET /data     the full log as a JSON array, arrival order
//	GET /view     the reduced canvas view
//	GET /healthz  liveness and ingestion status
//
// Every response carries an X-Request-ID header and is access-logged.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/roach88/replyplace/internal/canvas"
	"github.com/roach88/replyplace/internal/ir"
)

// HeaderRequestID carries the per-request identifier.
const HeaderRequestID = "X-Request-ID"

const shutdownTimeout = 10 * time.Second

// Source is the read side of the command log. engine.Engine implements it.
type Source interface {
	Snapshot(ctx context.Context) ([]ir.Command, error)
	Len(ctx context.Context) (int, error)
}

// Server serves read-only views of a Source.
type Server struct {
	src        Source
	canvas     canvas.Options
	newID      func() string
	logger     *slog.Logger
	origins    []string
	backfilled func() bool
	live       func() bool

	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithCanvas sets the reducer options used by /view.
func WithCanvas(opts canvas.Options) Option {
	return func(s *Server) { s.canvas = opts }
}

// WithRequestIDs replaces the request ID generator.
func WithRequestIDs(gen func() string) Option {
	return func(s *Server) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAllowedOrigins sets the CORS allow list. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithBackfillStatus reports whether the backfill has completed.
func WithBackfillStatus(fn func() bool) Option {
	return func(s *Server) { s.backfilled = fn }
}

// WithLiveStatus reports whether the live subscription is connected.
func WithLiveStatus(fn func() bool) Option {
	return func(s *Server) { s.live = fn }
}

// New creates a server reading from src.
func New(src Source, opts ...Option) *Server {
	s := &Server{
		src:     src,
		newID:   newRequestID,
		logger:  slog.Default(),
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}

	router := mux.NewRouter()
	router.HandleFunc("/data", s.handleData).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/view", s.handleView).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet, http.MethodHead)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	})
	s.handler = s.requestID(s.accessLog(c.Handler(router)))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
