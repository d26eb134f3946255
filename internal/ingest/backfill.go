package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/replyplace/internal/bsky"
	"github.com/roach88/replyplace/internal/engine"
	"github.com/roach88/replyplace/internal/ir"
	"github.com/roach88/replyplace/internal/parser"
)

// DefaultBackfillAttempts is the number of fetch attempts before giving up.
const DefaultBackfillAttempts = 3

// ErrSinkStopped is returned when the sink stops accepting commands mid-backfill.
var ErrSinkStopped = errors.New("sink stopped")

// BackfillResult summarises one backfill.
type BackfillResult struct {
	// Replies is the number of visible reply posts walked.
	Replies int
	// Commands is the number of replies that parsed into commands.
	Commands int
	// Dropped counts replies with a command but an unusable createdAt.
	Dropped int
	// Attempts is the number of fetches made.
	Attempts int
}

// Backfiller seeds the command log from a thread snapshot.
type Backfiller struct {
	fetcher  ThreadFetcher
	parser   *parser.Parser
	sink     Sink
	rootURI  string
	attempts uint
	newBack  func() backoff.BackOff
	logger   *slog.Logger
}

// BackfillOption configures a Backfiller.
type BackfillOption func(*Backfiller)

// WithAttempts sets the maximum number of fetch attempts.
func WithAttempts(n int) BackfillOption {
	return func(b *Backfiller) {
		if n > 0 {
			b.attempts = uint(n)
		}
	}
}

// WithRetryBackOff sets the delay policy between fetch attempts.
func WithRetryBackOff(newBackOff func() backoff.BackOff) BackfillOption {
	return func(b *Backfiller) {
		if newBackOff != nil {
			b.newBack = newBackOff
		}
	}
}

// WithBackfillLogger sets the logger.
func WithBackfillLogger(l *slog.Logger) BackfillOption {
	return func(b *Backfiller) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackfiller creates a backfiller for the thread rooted at rootURI.
func NewBackfiller(fetcher ThreadFetcher, p *parser.Parser, sink Sink, rootURI string, opts ...BackfillOption) *Backfiller {
	b := &Backfiller{
		fetcher:  fetcher,
		parser:   p,
		sink:     sink,
		rootURI:  rootURI,
		attempts: DefaultBackfillAttempts,
		newBack: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run fetches the thread, parses every reply and submits the commands.
//
// Nothing is submitted unless the fetch succeeds and the whole tree has
// been walked. Run returns after the sink has applied the batch.
func (b *Backfiller) Run(ctx context.Context) (BackfillResult, error) {
	var result BackfillResult

	root, err := backoff.Retry(ctx, func() (*bsky.ThreadNode, error) {
		result.Attempts++
		node, err := b.fetcher.GetPostThread(ctx, b.rootURI)
		if err != nil && bsky.IsPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return node, err
	},
		backoff.WithBackOff(b.newBack()),
		backoff.WithMaxTries(b.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Warn("thread fetch failed, retrying", "root", b.rootURI, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return result, fmt.Errorf("backfill %s: %w", b.rootURI, err)
	}

	cmds := b.collect(root, &result)

	for _, cmd := range cmds {
		if !b.sink.Submit(ir.SourceBackfill, cmd) {
			return result, fmt.Errorf("backfill %s: %w", b.rootURI, ErrSinkStopped)
		}
	}
	if err := b.sink.Sync(ctx); err != nil {
		if errors.Is(err, engine.ErrStopped) {
			return result, fmt.Errorf("backfill %s: %w", b.rootURI, ErrSinkStopped)
		}
		return result, fmt.Errorf("backfill %s: %w", b.rootURI, err)
	}

	b.logger.Info("backfill complete",
		"root", b.rootURI,
		"replies", result.Replies,
		"commands", result.Commands,
		"dropped", result.Dropped,
		"attempts", result.Attempts)
	return result, nil
}

// collect walks the tree in thread order and parses each reply.
func (b *Backfiller) collect(root *bsky.ThreadNode, result *BackfillResult) []ir.Command {
	var cmds []ir.Command
	root.Walk(func(n bsky.ThreadNode) {
		result.Replies++
		post := n.Post
		placement, ok := b.parser.Parse(post.Author.DID, post.Record.Text)
		if !ok {
			return
		}
		ts, err := ir.ParseTime(post.Record.CreatedAt)
		if err != nil {
			result.Dropped++
			b.logger.Warn("dropping reply with bad createdAt",
				"uri", post.URI, "actor", post.Author.DID, "createdAt", post.Record.CreatedAt, "error", err)
			return
		}
		cmds = append(cmds, placement.At(ts))
	})
	result.Commands = len(cmds)
	return cmds
}
