package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/replyplace/internal/bsky"
	"github.com/roach88/replyplace/internal/ir"
	"github.com/roach88/replyplace/internal/jetstream"
	"github.com/roach88/replyplace/internal/parser"
)

// Reconnect defaults.
const (
	DefaultRewind     = 5 * time.Second
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = time.Minute
)

// SubscriberStats are cumulative counters.
type SubscriberStats struct {
	Events     int64 // messages decoded
	Malformed  int64 // messages that failed to decode
	Matched    int64 // post creations replying to the root
	Submitted  int64 // matched events that parsed into commands
	Reconnects int64 // connection attempts after the first
}

// Subscriber tails Jetstream for replies to one root post.
type Subscriber struct {
	client     *jetstream.Client
	parser     *parser.Parser
	sink       Sink
	rootURI    string
	rewind     time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	cursor    atomic.Int64
	connected atomic.Bool
	stats     struct {
		events, malformed, matched, submitted, reconnects atomic.Int64
	}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithRewind sets how far before the last seen event a reconnect resumes.
func WithRewind(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d >= 0 {
			s.rewind = d
		}
	}
}

// WithReconnectBackoff sets the bounds of the reconnect delay.
func WithReconnectBackoff(minDelay, maxDelay time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if minDelay > 0 {
			s.minBackoff = minDelay
		}
		if maxDelay >= s.minBackoff {
			s.maxBackoff = maxDelay
		}
	}
}

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(l *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSubscriber creates a subscriber for replies under rootURI.
func NewSubscriber(client *jetstream.Client, p *parser.Parser, sink Sink, rootURI string, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		client:     client,
		parser:     p,
		sink:       sink,
		rootURI:    rootURI,
		rewind:     DefaultRewind,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run holds a subscription open until ctx is cancelled, reconnecting after
// every disconnect. It returns ctx's error.
func (s *Subscriber) Run(ctx context.Context) error {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     s.minBackoff,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         s.maxBackoff,
	}
	bo.Reset()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			s.stats.reconnects.Add(1)
		}

		cursor := s.ResumeCursor()
		conn, err := s.client.Connect(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := bo.NextBackOff()
			s.logger.Warn("jetstream connect failed", "error", err, "retry_in", delay)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		s.logger.Info("jetstream connected", "root", s.rootURI, "cursor", cursor)
		received, err := s.consume(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received > 0 {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		s.logger.Warn("jetstream disconnected", "error", err, "events", received, "retry_in", delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// consume reads conn until it fails or ctx is cancelled.
func (s *Subscriber) consume(ctx context.Context, conn *jetstream.Conn) (int, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)

	received := 0
	for {
		ev, err := conn.Next()
		if err != nil {
			var decodeErr *jetstream.DecodeError
			if errors.As(err, &decodeErr) {
				s.stats.malformed.Add(1)
				s.logger.Debug("dropping malformed jetstream message", "error", err)
				continue
			}
			return received, err
		}
		received++
		s.HandleEvent(ev)
	}
}

// HandleEvent filters one event and submits its command, if any. It
// reports whether a command was submitted. Events never fail: anything
// unrelated or malformed is dropped.
func (s *Subscriber) HandleEvent(ev jetstream.Event) bool {
	s.stats.events.Add(1)
	s.advanceCursor(ev.TimeUS)

	if ev.Kind != jetstream.KindCommit || ev.Commit == nil {
		return false
	}
	c := ev.Commit
	if c.Operation != jetstream.OpCreate || c.Collection != bsky.TypePostRecord {
		return false
	}

	var record bsky.PostRecord
	if err := json.Unmarshal(c.Record, &record); err != nil {
		s.logger.Debug("dropping undecodable post record", "did", ev.DID, "rkey", c.RKey, "error", err)
		return false
	}
	if record.Reply == nil || record.Reply.Root.URI != s.rootURI {
		return false
	}
	s.stats.matched.Add(1)

	placement, ok := s.parser.Parse(ev.DID, record.Text)
	if !ok {
		return false
	}
	ts, err := ir.ParseTime(record.CreatedAt)
	if err != nil {
		s.logger.Warn("dropping reply with bad createdAt",
			"uri", ev.URI(), "actor", ev.DID, "createdAt", record.CreatedAt, "error", err)
		return false
	}

	cmd := placement.At(ts)
	if !s.sink.Submit(ir.SourceLive, cmd) {
		s.logger.Warn("sink stopped, dropping live command", "actor", cmd.Actor)
		return false
	}
	s.stats.submitted.Add(1)
	return true
}

func (s *Subscriber) advanceCursor(timeUS int64) {
	for {
		cur := s.cursor.Load()
		if timeUS <= cur || s.cursor.CompareAndSwap(cur, timeUS) {
			return
		}
	}
}

// ResumeCursor is the cursor the next connection will use: the last seen
// time_us minus the rewind window, or zero before any event was seen.
func (s *Subscriber) ResumeCursor() int64 {
	last := s.cursor.Load()
	if last == 0 {
		return 0
	}
	return max(last-s.rewind.Microseconds(), 1)
}

// Connected reports whether a subscription is currently open.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Stats returns a snapshot of the counters.
func (s *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Events:     s.stats.events.Load(),
		Malformed:  s.stats.malformed.Load(),
		Matched:    s.stats.matched.Load(),
		Submitted:  s.stats.submitted.Load(),
		Reconnects: s.stats.reconnects.Load(),
	}
}

// Start runs the subscriber in the background until Stop or ctx cancellation.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		err := s.Run(ctx)
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
	}()
}

// Stop cancels a started subscriber, closes its connection and waits for
// it to exit. It returns nil after a clean shutdown.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.runErr, context.Canceled) {
		return nil
	}
	return s.runErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
