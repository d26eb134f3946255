package bsky

import "strings"

// Lexicon type identifiers used in thread responses.
const (
	TypeThreadViewPost = "app.bsky.feed.defs#threadViewPost"
	TypeNotFoundPost   = "app.bsky.feed.defs#notFoundPost"
	TypeBlockedPost    = "app.bsky.feed.defs#blockedPost"
	TypePostRecord     = "app.bsky.feed.post"
)

// threadResponse is the body of app.bsky.feed.getPostThread.
type threadResponse struct {
	Thread *ThreadNode `json:"thread"`
}

// ThreadNode is one node of a thread tree. Only #threadViewPost nodes carry
// a Post; #notFoundPost and #blockedPost nodes carry only their URI.
//
// Replies is nil when the field is absent from the response and non-nil
// (possibly empty) when present.
type ThreadNode struct {
	Type    string       `json:"$type"`
	URI     string       `json:"uri,omitempty"`
	Post    *PostView    `json:"post,omitempty"`
	Replies []ThreadNode `json:"replies"`
}

// IsPost reports whether the node is a visible post.
func (n ThreadNode) IsPost() bool {
	return n.Type == TypeThreadViewPost && n.Post != nil
}

// PostView is the hydrated view of a post.
type PostView struct {
	URI    string      `json:"uri"`
	CID    string      `json:"cid"`
	Author ProfileView `json:"author"`
	Record PostRecord  `json:"record"`
}

// ProfileView is the minimal author view.
type ProfileView struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

// PostRecord is an app.bsky.feed.post record.
type PostRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *ReplyRef `json:"reply,omitempty"`
}

// ReplyRef links a reply to its thread root and direct parent.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// StrongRef references a record by URI and CID.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Walk visits every post node below n depth-first in thread order.
// Non-post nodes are skipped along with their subtrees.
func (n ThreadNode) Walk(visit func(ThreadNode)) {
	for _, reply := range n.Replies {
		if !reply.IsPost() {
			continue
		}
		visit(reply)
		reply.Walk(visit)
	}
}

// IsPostURI reports whether uri looks like at://<repo>/app.bsky.feed.post/<rkey>.
func IsPostURI(uri string) bool {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return false
	}
	parts := strings.Split(rest, "/")
	return len(parts) == 3 && parts[0] != "" && parts[1] == TypePostRecord && parts[2] != ""
}
