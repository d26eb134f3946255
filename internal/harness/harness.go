package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/replyplace/internal/bsky"
	"github.com/roach88/replyplace/internal/canvas"
	"github.com/roach88/replyplace/internal/config"
	"github.com/roach88/replyplace/internal/engine"
	"github.com/roach88/replyplace/internal/ingest"
	"github.com/roach88/replyplace/internal/ir"
	"github.com/roach88/replyplace/internal/jetstream"
	"github.com/roach88/replyplace/internal/parser"
	"github.com/roach88/replyplace/internal/store"
	"github.com/roach88/replyplace/internal/testutil"
)

// Harness holds the components wired for one scenario.
type Harness struct {
	scenario *Scenario
	root     string
	opts     canvas.Options
	log      store.Log
	engine   *engine.Engine
	parser   *parser.Parser
	logger   *slog.Logger
}

// Run executes a scenario against a fresh log and evaluates its assertions.
//
// Execution flow:
//  1. Open a fresh log and start an engine over it
//  2. Serve the scenario thread from a fake AppView and backfill from it
//  3. Deliver live events in order through the subscriber's filter
//  4. Wait for the engine, snapshot the log and reduce it
//  5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	opts := canvas.Options{
		Width:        scenario.Canvas.Width,
		Height:       scenario.Canvas.Height,
		Background:   scenario.Canvas.Background,
		HistoryLimit: scenario.Canvas.History,
	}
	if opts.Width == 0 {
		opts.Width = canvas.DefaultWidth
	}
	if opts.Height == 0 {
		opts.Height = canvas.DefaultHeight
	}

	root := scenario.Root
	if root == "" {
		root = config.DefaultRootURI
	}

	l, err := store.Open(scenario.Store, store.MemoryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer l.Close()

	h := &Harness{
		scenario: scenario,
		root:     root,
		opts:     opts,
		log:      l,
		engine:   engine.New(l, engine.WithGrid(opts.Width, opts.Height)),
		parser:   parser.New(opts.Width, opts.Height),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in scenarios
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engineDone := make(chan error, 1)
	go func() { engineDone <- h.engine.Run(ctx) }()
	defer func() {
		h.engine.Stop()
		<-engineDone
	}()

	result := NewResult()

	if scenario.Backfill != nil {
		result.Backfill, result.BackfillErr = h.backfill(ctx, scenario.Backfill)
	}
	if err := h.deliverLive(scenario.Live, result); err != nil {
		return nil, err
	}

	if err := h.engine.Sync(ctx); err != nil {
		return nil, fmt.Errorf("failed to sync engine: %w", err)
	}
	snapshot, err := h.engine.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot log: %w", err)
	}
	result.Log = snapshot
	result.View = canvas.Reduce(snapshot, opts)
	result.Engine = h.engine.Stats()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// backfill serves spec from a fake AppView and runs the real backfiller
// against it with a single attempt.
func (h *Harness) backfill(ctx context.Context, spec *BackfillSpec) (ingest.BackfillResult, error) {
	srv := testutil.StartThreadServer()
	defer srv.Close()

	switch spec.Fail {
	case FailNotFound:
	case FailBlocked:
		srv.SetRaw(h.root, fmt.Sprintf(`{"thread":{"$type":%q,"uri":%q,"blocked":true}}`, bsky.TypeBlockedPost, h.root))
	case FailNoReplies:
		srv.SetThread(h.root, testutil.PostNode(h.root, "did:plc:root", "", ""))
	case FailUnavailable:
		h.serveThread(srv, spec.Replies)
		srv.FailNext(http.StatusServiceUnavailable)
	default:
		h.serveThread(srv, spec.Replies)
	}

	b := ingest.NewBackfiller(bsky.NewClient(srv.URL()), h.parser, h.engine, h.root,
		ingest.WithAttempts(1),
		ingest.WithBackfillLogger(h.logger))
	result, err := b.Run(ctx)
	h.logger.Info("scenario backfill finished", "scenario", h.scenario.Name, "commands", result.Commands, "error", err)
	return result, err
}

func (h *Harness) serveThread(srv *testutil.ThreadServer, replies []Reply) {
	srv.SetThread(h.root, testutil.ThreadRoot(h.root, "did:plc:root", "", "", buildReplies("r", replies)...))
}

// buildReplies converts scenario replies into thread nodes. Post URIs are
// derived from each node's position so they are stable across runs.
func buildReplies(prefix string, replies []Reply) []bsky.ThreadNode {
	if len(replies) == 0 {
		return nil
	}
	nodes := make([]bsky.ThreadNode, 0, len(replies))
	for i, r := range replies {
		rkey := fmt.Sprintf("%s%d", prefix, i)
		uri := testutil.PostURI(r.Actor, rkey)
		switch r.Hidden {
		case HiddenNotFound:
			nodes = append(nodes, testutil.NotFoundNode(uri))
		case HiddenBlocked:
			nodes = append(nodes, testutil.BlockedNode(uri))
		default:
			nodes = append(nodes, testutil.PostNode(uri, r.Actor, r.Text, r.CreatedAt, buildReplies(rkey+"_", r.Replies)...))
		}
	}
	return nodes
}

// deliverLive feeds each event through the subscriber's filter, encoding
// and decoding it as the websocket reader would.
func (h *Harness) deliverLive(events []LiveEvent, result *Result) error {
	sub := ingest.NewSubscriber(jetstream.NewClient(""), h.parser, h.engine, h.root,
		ingest.WithSubscriberLogger(h.logger))

	for i, spec := range events {
		raw, err := h.encodeLive(i, spec)
		if err != nil {
			return fmt.Errorf("live[%d]: %w", i, err)
		}
		var ev jetstream.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			result.LiveDropped++
			continue
		}
		if sub.HandleEvent(ev) {
			result.LiveSubmitted++
		}
	}
	return nil
}

func (h *Harness) encodeLive(i int, spec LiveEvent) ([]byte, error) {
	if spec.Raw != "" {
		return []byte(spec.Raw), nil
	}

	root := h.root
	switch {
	case spec.TopLevel:
		root = ""
	case spec.Root != "":
		root = spec.Root
	}
	timeUS := spec.TimeUS
	if timeUS == 0 {
		timeUS = int64(i + 1)
	}

	ev := testutil.PostCommit(spec.Actor, fmt.Sprintf("l%d", i), timeUS, spec.Text, spec.CreatedAt, root)
	if spec.Operation != "" {
		ev.Commit.Operation = spec.Operation
	}
	if spec.Collection != "" {
		ev.Commit.Collection = spec.Collection
	}
	return json.Marshal(ev)
}

// sourceStats returns the engine counters for src.
func sourceStats(r *Result, src ir.Source) engine.SourceStats {
	return r.Engine.Sources[src]
}
