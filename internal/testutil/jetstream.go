package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replyplace/internal/jetstream"
)

// JetstreamServer is an in-process stand-in for a Jetstream instance.
//
// Published events are kept in a history. A subscriber that connects with
// a cursor first receives every retained event whose time_us is at or
// after the cursor, then live events; without a cursor it only receives
// live events.
type JetstreamServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	history  []publishedEvent
	requests []url.Values
	closed   bool

	wg sync.WaitGroup
}

type publishedEvent struct {
	timeUS int64
	raw    []byte
}

// NewJetstreamServer starts a fake Jetstream and closes it on test cleanup.
func NewJetstreamServer(t testing.TB) *JetstreamServer {
	t.Helper()
	s := &JetstreamServer{
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/subscribe", s.serveWs)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// subscribe endpoint.
func (s *JetstreamServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/subscribe"
}

func (s *JetstreamServer) serveWs(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	query := r.URL.Query()
	cursor, _ := strconv.ParseInt(query.Get("cursor"), 10, 64)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.requests = append(s.requests, query)
	s.conns[conn] = struct{}{}
	if cursor > 0 {
		for _, ev := range s.history {
			if ev.timeUS >= cursor {
				_ = conn.WriteMessage(websocket.TextMessage, ev.raw)
			}
		}
	}
	s.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Publish retains ev and sends it to every open subscription.
func (s *JetstreamServer) Publish(t testing.TB, ev jetstream.Event) {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, publishedEvent{timeUS: ev.TimeUS, raw: raw})
	s.broadcastLocked(raw)
}

// SendRaw sends msg verbatim to every open subscription without retaining it.
func (s *JetstreamServer) SendRaw(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked([]byte(msg))
}

func (s *JetstreamServer) broadcastLocked(raw []byte) {
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			conn.Close()
			delete(s.conns, conn)
		}
	}
}

// DropConnections abruptly closes every open subscription.
func (s *JetstreamServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

// Requests returns the query of every accepted subscription in order.
func (s *JetstreamServer) Requests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.requests))
	copy(out, s.requests)
	return out
}

// Open returns the number of currently open subscriptions.
func (s *JetstreamServer) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// WaitForSubscriptions blocks until at least n subscriptions have been
// accepted in total and one is open.
func (s *JetstreamServer) WaitForSubscriptions(t testing.TB, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.requests) >= n && len(s.conns) > 0
	}, 5*time.Second, 5*time.Millisecond, "expected %d subscriptions", n)
}

// Close drops every subscription and stops the server.
func (s *JetstreamServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
	s.mu.Unlock()

	s.srv.Close()
	s.wg.Wait()
}

// PostCommit builds a create commit for an app.bsky.feed.post reply to root.
func PostCommit(did, rkey string, timeUS int64, text, createdAt, rootURI string) jetstream.Event {
	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": createdAt,
	}
	if rootURI != "" {
		ref := map[string]string{"uri": rootURI, "cid": "bafyroot"}
		record["reply"] = map[string]any{"root": ref, "parent": ref}
	}
	raw, _ := json.Marshal(record)
	return jetstream.Event{
		DID:    did,
		TimeUS: timeUS,
		Kind:   jetstream.KindCommit,
		Commit: &jetstream.Commit{
			Rev:        "rev" + rkey,
			Operation:  jetstream.OpCreate,
			Collection: "app.bsky.feed.post",
			RKey:       rkey,
			Record:     raw,
			CID:        "bafy" + rkey,
		},
	}
}
