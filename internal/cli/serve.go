package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/replyplace/internal/bsky"
	"github.com/roach88/replyplace/internal/config"
	"github.com/roach88/replyplace/internal/engine"
	"github.com/roach88/replyplace/internal/ingest"
	"github.com/roach88/replyplace/internal/jetstream"
	"github.com/roach88/replyplace/internal/parser"
	"github.com/roach88/replyplace/internal/server"
	"github.com/roach88/replyplace/internal/store"
)

// ErrBackfillRequired is returned by Service.Run when the startup backfill
// fails and backfill.required is set.
var ErrBackfillRequired = errors.New("backfill failed")

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest replies and serve the command log",
		Long: `Start the ingestion pipeline and the HTTP read endpoint.

The firehose subscription starts first, then the thread is backfilled
from the AppView. Both feed a single deduplicating writer. The log is
served at /data, the reduced canvas at /view and status at /healthz.

Exit codes:
  0 - Shut down cleanly on SIGINT/SIGTERM
  1 - Backfill failed and backfill.required is set
  2 - Command error (invalid config, unusable store, address in use)

Examples:
  replyplace serve
  replyplace serve --addr :9000 --store sqlite --dsn canvas.db
  REPLYPLACE_ROOT_URI=at://did:plc:x/app.bsky.feed.post/y replyplace serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, cmd)
		},
	}

	cmd.Flags().String("addr", ":8787", "HTTP listen address")
	cmd.Flags().String("root", config.DefaultRootURI, "at:// URI of the canvas post")
	cmd.Flags().String("store", store.DriverMemory, "command log driver (memory|sqlite)")
	cmd.Flags().String("dsn", store.MemoryDSN, "sqlite data source name")
	cmd.Flags().Bool("backfill-required", true, "exit if the startup backfill fails")

	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)

	cfg, err := opts.LoadConfig(cmd,
		flagBinding{config.KeyHTTPAddr, "addr"},
		flagBinding{config.KeyRootURI, "root"},
		flagBinding{config.KeyStoreDriver, "store"},
		flagBinding{config.KeyStoreDSN, "dsn"},
		flagBinding{config.KeyBackfillRequired, "backfill-required"})
	if err != nil {
		return f.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}

	svc, err := NewService(cfg, opts.logger())
	if err != nil {
		return f.Fail(ExitCommandError, CodeServe, "failed to start", err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.HTTPAddr)
	if err != nil {
		svc.Close()
		return f.Fail(ExitCommandError, CodeServe, "failed to listen", err)
	}

	f.VerboseLog("serving %s on %s", cfg.RootURI, ln.Addr())
	if err := svc.Run(ctx, ln); err != nil {
		if errors.Is(err, ErrBackfillRequired) {
			return f.Fail(ExitFailure, CodeServe, "backfill failed", err)
		}
		return f.Fail(ExitCommandError, CodeServe, "server failed", err)
	}
	return nil
}

// Service wires the ingestion pipeline to the HTTP endpoint for one
// canvas post.
type Service struct {
	cfg    config.Config
	logger *slog.Logger

	log        store.Log
	engine     *engine.Engine
	backfiller *ingest.Backfiller
	subscriber *ingest.Subscriber
	server     *server.Server

	backfilled atomic.Bool
}

// NewService opens the configured log and builds every component.
// Call Run to start it, or Close to release the log without running.
func NewService(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s log: %w", cfg.Store.Driver, err)
	}

	s := &Service{cfg: cfg, logger: logger, log: l}
	s.engine = engine.New(l, engine.WithGrid(cfg.Canvas.Width, cfg.Canvas.Height))

	p := parser.New(cfg.Canvas.Width, cfg.Canvas.Height)
	thread := bsky.NewClient(cfg.Bsky.Service,
		bsky.WithDepth(cfg.Bsky.Depth),
		bsky.WithHTTPClient(&http.Client{Timeout: cfg.Bsky.Timeout}))

	s.backfiller = ingest.NewBackfiller(thread, p, s.engine, cfg.RootURI,
		ingest.WithAttempts(cfg.Backfill.Attempts),
		ingest.WithBackfillLogger(logger))

	s.subscriber = ingest.NewSubscriber(
		jetstream.NewClient(cfg.Jetstream.URL, bsky.TypePostRecord),
		p, s.engine, cfg.RootURI,
		ingest.WithRewind(cfg.Jetstream.Rewind),
		ingest.WithReconnectBackoff(cfg.Subscriber.MinBackoff, cfg.Subscriber.MaxBackoff),
		ingest.WithSubscriberLogger(logger))

	s.server = server.New(s.engine,
		server.WithCanvas(cfg.CanvasOptions()),
		server.WithLogger(logger),
		server.WithBackfillStatus(s.backfilled.Load),
		server.WithLiveStatus(s.subscriber.Connected))

	return s, nil
}

// Handler exposes the HTTP routes without listening.
func (s *Service) Handler() http.Handler {
	return s.server.Handler()
}

// Backfilled reports whether the startup backfill has completed.
func (s *Service) Backfilled() bool {
	return s.backfilled.Load()
}

// Run serves on ln until ctx is cancelled.
//
// Startup order:
//  1. Start the engine (single writer)
//  2. Start the live subscription
//  3. Backfill the thread and serve HTTP concurrently
//
// On shutdown the HTTP server drains, the subscriber stops, and the engine
// applies everything already submitted before the log is closed.
//
// Run returns nil after a clean shutdown. A failed backfill returns an
// error wrapping ErrBackfillRequired if backfill.required is set, and is
// logged and ignored otherwise.
func (s *Service) Run(ctx context.Context, ln net.Listener) error {
	engineCtx, cancelEngine := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelEngine()
	engineDone := make(chan error, 1)
	go func() { engineDone <- s.engine.Run(engineCtx) }()
	defer s.Close()
	defer func() {
		s.engine.Stop()
		<-engineDone
	}()

	s.subscriber.Start(ctx)
	defer func() {
		if err := s.subscriber.Stop(); err != nil {
			s.logger.Warn("subscriber stopped with error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.backfill(gctx)
	})
	g.Go(func() error {
		return s.server.Serve(gctx, ln)
	})
	return g.Wait()
}

func (s *Service) backfill(ctx context.Context) error {
	_, err := s.backfiller.Run(ctx)
	if err == nil {
		s.backfilled.Store(true)
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	if s.cfg.Backfill.Required {
		return fmt.Errorf("%w: %w", ErrBackfillRequired, err)
	}
	s.logger.Error("backfill failed, continuing with live replies only", "root", s.cfg.RootURI, "error", err)
	return nil
}

// Close releases the command log. Run calls it on return.
func (s *Service) Close() {
	if err := s.log.Close(); err != nil {
		s.logger.Warn("failed to close command log", "error", err)
	}
}
