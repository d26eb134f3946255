// Package ingest feeds the command log from Bluesky.
//
// Two producers share one sink:
//
//   - Backfiller runs once at startup. It fetches the root post's thread,
//     parses every reply and submits the resulting commands in one batch.
//   - Subscriber tails Jetstream for new replies to the same root and
//     submits commands as they arrive, reconnecting with a rewound cursor
//     whenever the connection drops.
//
// Both tag their submissions with an ir.Source. Overlap between them, and
// replays after a reconnect, collapse in the log because commands are
// deduplicated by content.
package ingest

import (
	"context"

	"github.com/roach88/replyplace/internal/bsky"
	"github.com/roach88/replyplace/internal/ir"
)

// Sink accepts commands. engine.Engine implements it.
type Sink interface {
	// Submit enqueues cmd. It returns false once the sink is stopped.
	Submit(src ir.Source, cmd ir.Command) bool
	// Sync blocks until every earlier Submit has been applied.
	Sync(ctx context.Context) error
}

// ThreadFetcher fetches a thread tree. bsky.Client implements it.
type ThreadFetcher interface {
	GetPostThread(ctx context.Context, uri string) (*bsky.ThreadNode, error)
}
