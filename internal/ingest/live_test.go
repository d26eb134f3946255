package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replyplace/internal/canvas"
	"github.com/roach88/replyplace/internal/ir"
	"github.com/roach88/replyplace/internal/jetstream"
	"github.com/roach88/replyplace/internal/testutil"
)

func newTestSubscriber(url string, sink Sink, opts ...SubscriberOption) *Subscriber {
	opts = append([]SubscriberOption{
		WithReconnectBackoff(time.Millisecond, 10*time.Millisecond),
		WithSubscriberLogger(quietLogger),
	}, opts...)
	client := jetstream.NewClient(url, "app.bsky.feed.post")
	return NewSubscriber(client, newParser(), sink, rootURI, opts...)
}

func reply(did, rkey string, timeUS int64, text string, sec int) jetstream.Event {
	return testutil.PostCommit(did, rkey, timeUS, text, stamp(sec), rootURI)
}

func TestHandleEvent_Filters(t *testing.T) {
	otherRoot := testutil.PostCommit("did:plc:a", "r", 1, "pixel 1,1 #FF0000", stamp(1), "at://did:plc:other/app.bsky.feed.post/x")
	topLevel := testutil.PostCommit("did:plc:a", "r", 1, "pixel 1,1 #FF0000", stamp(1), "")

	deleted := reply("did:plc:a", "r", 1, "pixel 1,1 #FF0000", 1)
	deleted.Commit.Operation = jetstream.OpDelete

	like := reply("did:plc:a", "r", 1, "pixel 1,1 #FF0000", 1)
	like.Commit.Collection = "app.bsky.feed.like"

	garbled := reply("did:plc:a", "r", 1, "", 1)
	garbled.Commit.Record = json.RawMessage(`"not an object"`)

	nested := reply("did:plc:a", "r", 1, "pixel 3,4 #00ff00", 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(nested.Commit.Record, &rec))
	rec["reply"].(map[string]any)["parent"] = map[string]string{"uri": "at://did:plc:b/app.bsky.feed.post/p", "cid": "c"}
	nested.Commit.Record, _ = json.Marshal(rec)

	tests := []struct {
		name string
		ev   jetstream.Event
		want bool
	}{
		{"direct reply", reply("did:plc:a", "r", 1, "pixel 1,1 #ff0000", 1), true},
		{"nested reply", nested, true},
		{"identity event", jetstream.Event{DID: "did:plc:a", TimeUS: 1, Kind: jetstream.KindIdentity}, false},
		{"commit without body", jetstream.Event{DID: "did:plc:a", TimeUS: 1, Kind: jetstream.KindCommit}, false},
		{"delete", deleted, false},
		{"other collection", like, false},
		{"other root", otherRoot, false},
		{"top-level post", topLevel, false},
		{"undecodable record", garbled, false},
		{"no command", reply("did:plc:a", "r", 1, "love this thread", 1), false},
		{"out of bounds", reply("did:plc:a", "r", 1, "pixel 9999,9999 #000000", 1), false},
		{"bad createdAt", testutil.PostCommit("did:plc:a", "r", 1, "pixel 1,1 #FF0000", "soon", rootURI), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			sub := newTestSubscriber("ws://unused", sink)
			assert.Equal(t, tt.want, sub.HandleEvent(tt.ev))
			if tt.want {
				require.Len(t, sink.Commands(), 1)
				assert.Equal(t, ir.SourceLive, sink.sources[0])
			} else {
				assert.Empty(t, sink.Commands())
			}
		})
	}
}

func TestHandleEvent_UsesDeclaredCreationTime(t *testing.T) {
	sink := &recordingSink{}
	sub := newTestSubscriber("ws://unused", sink)

	require.True(t, sub.HandleEvent(reply("did:plc:a", "r", 1_900_000_000_000_000, "pixel 7,8 #abcdef", 42)))
	assert.Equal(t, []ir.Command{{Actor: "did:plc:a", X: 7, Y: 8, Colour: "#ABCDEF", Timestamp: ts(42)}}, sink.Commands())
}

func TestHandleEvent_StoppedSink(t *testing.T) {
	sub := newTestSubscriber("ws://unused", &recordingSink{stopped: true})
	assert.False(t, sub.HandleEvent(reply("did:plc:a", "r", 1, "pixel 1,1 #ff0000", 1)))
	assert.Zero(t, sub.Stats().Submitted)
}

func TestResumeCursor(t *testing.T) {
	sub := newTestSubscriber("ws://unused", &recordingSink{}, WithRewind(2*time.Second))
	assert.Zero(t, sub.ResumeCursor())

	sub.HandleEvent(jetstream.Event{TimeUS: 10_000_000, Kind: jetstream.KindAccount})
	sub.HandleEvent(jetstream.Event{TimeUS: 9_000_000, Kind: jetstream.KindAccount})
	assert.Equal(t, int64(8_000_000), sub.ResumeCursor())

	short := newTestSubscriber("ws://unused", &recordingSink{}, WithRewind(time.Hour))
	short.HandleEvent(jetstream.Event{TimeUS: 5, Kind: jetstream.KindAccount})
	assert.Equal(t, int64(1), short.ResumeCursor())
}

func TestSubscriber_StreamsIntoSink(t *testing.T) {
	srv := testutil.NewJetstreamServer(t)
	sink := &recordingSink{}
	sub := newTestSubscriber(srv.URL(), sink)
	sub.Start(context.Background())
	defer func() { assert.NoError(t, sub.Stop()) }()

	srv.WaitForSubscriptions(t, 1)
	assert.Equal(t, []string{"app.bsky.feed.post"}, srv.Requests()[0]["wantedCollections"])
	assert.False(t, srv.Requests()[0].Has("cursor"))

	srv.SendRaw("garbage")
	srv.Publish(t, jetstream.Event{DID: "did:plc:x", TimeUS: 50, Kind: jetstream.KindIdentity})
	srv.Publish(t, reply("did:plc:a", "r1", 100, "pixel 1,1 #ff0000", 1))
	srv.Publish(t, reply("did:plc:b", "r2", 200, "hello", 2))
	srv.Publish(t, reply("did:plc:c", "r3", 300, "pixel 2,2 #00ff00", 3))

	require.Eventually(t, func() bool { return len(sink.Commands()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, sub.Connected())

	require.Eventually(t, func() bool { return sub.Stats().Events == 4 }, 5*time.Second, 5*time.Millisecond)
	stats := sub.Stats()
	assert.Equal(t, int64(1), stats.Malformed)
	assert.Equal(t, int64(3), stats.Matched)
	assert.Equal(t, int64(2), stats.Submitted)
}

func TestSubscriber_ReconnectReplaysFromRewoundCursor(t *testing.T) {
	srv := testutil.NewJetstreamServer(t)
	e := startEngine(t)
	sub := newTestSubscriber(srv.URL(), e, WithRewind(time.Second))
	sub.Start(context.Background())
	defer func() { assert.NoError(t, sub.Stop()) }()

	srv.WaitForSubscriptions(t, 1)
	srv.Publish(t, reply("did:plc:a", "r1", 10_000_000, "pixel 1,1 #ff0000", 1))
	srv.Publish(t, reply("did:plc:b", "r2", 10_500_000, "pixel 2,2 #00ff00", 2))
	require.Eventually(t, func() bool { return sub.Stats().Submitted == 2 }, 5*time.Second, 5*time.Millisecond)

	srv.DropConnections()
	srv.WaitForSubscriptions(t, 2)

	reqs := srv.Requests()
	assert.Equal(t, "9500000", reqs[1].Get("cursor"))

	// both retained events are replayed; the log keeps one copy of each
	require.Eventually(t, func() bool { return sub.Stats().Submitted == 4 }, 5*time.Second, 5*time.Millisecond)
	srv.Publish(t, reply("did:plc:c", "r3", 11_000_000, "pixel 3,3 #0000ff", 3))
	require.Eventually(t, func() bool { return sub.Stats().Submitted == 5 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Sync(context.Background()))
	n, err := e.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(2), e.Stats().Sources[ir.SourceLive].Duplicates)
	assert.GreaterOrEqual(t, sub.Stats().Reconnects, int64(1))
}

func TestSubscriber_StopWhileUnreachable(t *testing.T) {
	sub := newTestSubscriber("ws://127.0.0.1:1/subscribe", &recordingSink{})
	sub.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, sub.Stop())
	assert.NoError(t, sub.Stop())
	assert.False(t, sub.Connected())
}

func TestSubscriber_RunReturnsContextError(t *testing.T) {
	srv := testutil.NewJetstreamServer(t)
	sub := newTestSubscriber(srv.URL(), &recordingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sub.Run(ctx) }()

	srv.WaitForSubscriptions(t, 1)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

// Backfill seeds C1; live then re-delivers C1 and adds C2.
func TestScenario_BackfillAndLiveMerge(t *testing.T) {
	threads := testutil.NewThreadServer(t)
	threads.SetThread(rootURI, testutil.ThreadRoot(rootURI, "did:plc:root", "", stamp(0),
		testutil.PostNode("at://did:plc:a/app.bsky.feed.post/c1", "did:plc:a", "pixel 0,0 #ff0000", stamp(1)),
	))
	firehose := testutil.NewJetstreamServer(t)
	e := startEngine(t)

	sub := newTestSubscriber(firehose.URL(), e)
	sub.Start(context.Background())
	defer func() { assert.NoError(t, sub.Stop()) }()
	firehose.WaitForSubscriptions(t, 1)

	_, err := newTestBackfiller(threads, e).Run(context.Background())
	require.NoError(t, err)

	firehose.Publish(t, reply("did:plc:a", "c1", 1_000_000, "pixel 0,0 #ff0000", 1))
	firehose.Publish(t, reply("did:plc:b", "c2", 2_000_000, "pixel 0,0 #00ff00", 2))
	require.Eventually(t, func() bool { return sub.Stats().Submitted == 2 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Sync(context.Background()))

	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap, 2)

	view := canvas.Reduce(snap, canvas.Options{})
	cell, ok := view.Cell(0, 0)
	require.True(t, ok)
	assert.Equal(t, "#00FF00", cell)
	require.Len(t, view.History, 2)
	assert.Equal(t, "did:plc:a", view.History[0].Actor)
	assert.Equal(t, "did:plc:b", view.History[1].Actor)
}

func TestScenario_InvalidCoordinateRejected(t *testing.T) {
	e := startEngine(t)
	sub := newTestSubscriber("ws://unused", e)

	assert.False(t, sub.HandleEvent(reply("did:plc:a", "r", 1, "pixel 9999,9999 #000000", 1)))

	require.NoError(t, e.Sync(context.Background()))
	n, err := e.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
