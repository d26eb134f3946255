package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/replyplace/internal/ir"
	"github.com/roach88/replyplace/internal/store"
)

// ErrStopped is returned by Sync once the engine no longer accepts events.
var ErrStopped = errors.New("engine stopped")

// SourceStats counts outcomes for one ingestion source.
type SourceStats struct {
	Submitted  int64 `json:"submitted"`
	Accepted   int64 `json:"accepted"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Sources map[ir.Source]SourceStats `json:"sources"`
	Pending int                       `json:"pending"`
}

// Engine is the single writer of a store.Log.
//
// Thread-safety model:
//   - Submit(), Sync(), Snapshot(), Stats(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	log   store.Log
	queue *eventQueue

	// Optional grid validation; zero means "trust the producer".
	width  int
	height int

	mu    sync.Mutex
	stats map[ir.Source]*SourceStats
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithGrid makes the engine reject commands outside a width x height grid
// or with a non-normalized colour, even if a producer let them through.
func WithGrid(width, height int) EngineOption {
	return func(e *Engine) {
		e.width = width
		e.height = height
	}
}

// New creates an Engine that owns writes to l.
func New(l store.Log, opts ...EngineOption) *Engine {
	e := &Engine{
		log:   l,
		queue: newEventQueue(),
		stats: make(map[ir.Source]*SourceStats),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit enqueues a candidate command for insertion.
// Never blocks. Returns false if the engine has been stopped.
func (e *Engine) Submit(src ir.Source, cmd ir.Command) bool {
	if !e.queue.Enqueue(Event{Source: src, Command: cmd}) {
		return false
	}
	e.count(src, func(s *SourceStats) { s.Submitted++ })
	return true
}

// Sync blocks until every command submitted before the call has been
// applied to the log, or ctx is done.
func (e *Engine) Sync(ctx context.Context) error {
	done := make(chan error, 1)
	if !e.queue.Enqueue(Event{Done: done}) {
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a point-in-time copy of the log in arrival order.
func (e *Engine) Snapshot(ctx context.Context) ([]ir.Command, error) {
	return e.log.Snapshot(ctx)
}

// Len returns the number of accepted commands.
func (e *Engine) Len(ctx context.Context) (int, error) {
	return e.log.Len(ctx)
}

// Stats returns a copy of the per-source counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Stats{
		Sources: make(map[ir.Source]SourceStats, len(e.stats)),
		Pending: e.queue.Len(),
	}
	for src, s := range e.stats {
		out.Sources[src] = *s
	}
	return out
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop() is called.
//
// Stop() drains: everything submitted before Stop is applied and Run
// returns nil. Cancelling ctx abandons queued events and returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		if event, ok := e.queue.TryDequeue(); ok {
			e.processEvent(ctx, event)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.abandon()
			return ctx.Err()

		case <-e.queue.Wait():
			// A closed queue keeps signalling; stop once it is drained.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Closes the event queue, which will cause Run() to return once drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// processEvent applies one event.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (e *Engine) processEvent(ctx context.Context, event Event) {
	if event.isBarrier() {
		event.Done <- nil
		return
	}

	cmd := event.Command
	if e.width > 0 && e.height > 0 {
		if err := cmd.Validate(e.width, e.height); err != nil {
			e.count(event.Source, func(s *SourceStats) { s.Failed++ })
			slog.Warn("command rejected",
				"source", event.Source,
				"actor", cmd.Actor,
				"error", err,
			)
			return
		}
	}

	inserted, err := e.log.Insert(ctx, cmd)
	if err != nil {
		e.count(event.Source, func(s *SourceStats) { s.Failed++ })
		logEventError(event, err)
		return
	}

	if !inserted {
		e.count(event.Source, func(s *SourceStats) { s.Duplicates++ })
		slog.Debug("duplicate command ignored",
			"source", event.Source,
			"actor", cmd.Actor,
			"x", cmd.X,
			"y", cmd.Y,
		)
		return
	}

	e.count(event.Source, func(s *SourceStats) { s.Accepted++ })
	slog.Info("command accepted",
		"source", event.Source,
		"actor", cmd.Actor,
		"x", cmd.X,
		"y", cmd.Y,
		"colour", cmd.Colour,
		"timestamp", ir.FormatTime(cmd.Timestamp),
	)
}

// abandon releases barriers still queued after cancellation.
func (e *Engine) abandon() {
	dropped := 0
	for {
		event, ok := e.queue.TryDequeue()
		if !ok {
			break
		}
		if event.isBarrier() {
			event.Done <- ErrStopped
			continue
		}
		dropped++
	}
	if dropped > 0 {
		slog.Warn("engine dropped queued commands on cancellation", "count", dropped)
	}
}

func (e *Engine) count(src ir.Source, fn func(*SourceStats)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.stats[src]
	if !ok {
		s = &SourceStats{}
		e.stats[src] = s
	}
	fn(s)
}

// logEventError logs a failed insert with full command context.
func logEventError(event Event, err error) {
	slog.Error("command insert failed",
		"source", event.Source,
		"actor", event.Command.Actor,
		"x", event.Command.X,
		"y", event.Command.Y,
		"colour", event.Command.Colour,
		"timestamp", ir.FormatTime(event.Command.Timestamp),
		"error", err,
	)
}
