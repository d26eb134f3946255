package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/roach88/replyplace/internal/bsky"
)

// ThreadServer is a fake AppView serving app.bsky.feed.getPostThread.
type ThreadServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	threads  map[string][]byte
	failures []int
	requests []*http.Request
}

// StartThreadServer starts a fake AppView. The caller must Close it.
func StartThreadServer() *ThreadServer {
	s := &ThreadServer{threads: make(map[string][]byte)}
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/app.bsky.feed.getPostThread", s.serveThread)
	s.srv = httptest.NewServer(mux)
	return s
}

// NewThreadServer starts a fake AppView and closes it on test cleanup.
func NewThreadServer(t testing.TB) *ThreadServer {
	t.Helper()
	s := StartThreadServer()
	t.Cleanup(s.Close)
	return s
}

// URL returns the service base URL.
func (s *ThreadServer) URL() string { return s.srv.URL }

// Close stops the server.
func (s *ThreadServer) Close() { s.srv.Close() }

// SetThread serves root for uri.
func (s *ThreadServer) SetThread(uri string, root bsky.ThreadNode) {
	// ThreadNode holds only strings and slices, so encoding cannot fail.
	raw, _ := json.Marshal(map[string]any{"thread": root})
	s.SetRaw(uri, string(raw))
}

// SetRaw serves body verbatim with status 200 for uri.
func (s *ThreadServer) SetRaw(uri, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[uri] = []byte(body)
}

// FailNext makes the next len(statuses) requests fail with those statuses.
func (s *ThreadServer) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Requests returns a copy of the requests served so far.
func (s *ThreadServer) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*http.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *ThreadServer) serveThread(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")

	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(r.Context()))
	var status int
	if len(s.failures) > 0 {
		status, s.failures = s.failures[0], s.failures[1:]
	}
	body, ok := s.threads[uri]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case status != 0:
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":"InternalServerError","message":"injected %d"}`, status)
	case !ok:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":"NotFound","message":"Post not found: %s"}`, uri)
	default:
		_, _ = w.Write(body)
	}
}

// PostURI builds an app.bsky.feed.post URI.
func PostURI(did, rkey string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey)
}

// ThreadRoot builds a #threadViewPost root. The replies array is always
// present, even when empty.
func ThreadRoot(uri, did, text, createdAt string, replies ...bsky.ThreadNode) bsky.ThreadNode {
	n := PostNode(uri, did, text, createdAt, replies...)
	if n.Replies == nil {
		n.Replies = []bsky.ThreadNode{}
	}
	return n
}

// PostNode builds a #threadViewPost node. With no replies the node
// encodes replies as null, which decodes like a node truncated at the
// depth limit.
func PostNode(uri, did, text, createdAt string, replies ...bsky.ThreadNode) bsky.ThreadNode {
	return bsky.ThreadNode{
		Type: bsky.TypeThreadViewPost,
		Post: &bsky.PostView{
			URI:    uri,
			CID:    "bafy" + did,
			Author: bsky.ProfileView{DID: did, Handle: did + ".test"},
			Record: bsky.PostRecord{
				Type:      bsky.TypePostRecord,
				Text:      text,
				CreatedAt: createdAt,
			},
		},
		Replies: replies,
	}
}

// NotFoundNode builds a #notFoundPost placeholder.
func NotFoundNode(uri string) bsky.ThreadNode {
	return bsky.ThreadNode{Type: bsky.TypeNotFoundPost, URI: uri}
}

// BlockedNode builds a #blockedPost placeholder.
func BlockedNode(uri string) bsky.ThreadNode {
	return bsky.ThreadNode{Type: bsky.TypeBlockedPost, URI: uri}
}
