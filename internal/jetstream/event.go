// Package jetstream is a minimal client for the Bluesky Jetstream firehose.
//
// Jetstream serves repository commits as JSON over a websocket. Clients
// narrow the stream with wantedCollections and resume from a cursor
// expressed in microseconds since the Unix epoch.
package jetstream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds.
const (
	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"
)

// Commit operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event is one firehose message.
type Event struct {
	DID    string  `json:"did"`
	TimeUS int64   `json:"time_us"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit describes a single record operation.
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

// Time converts TimeUS to a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMicro(e.TimeUS).UTC()
}

// URI returns the at:// URI of the committed record, or "" for non-commit events.
func (e Event) URI() string {
	if e.Commit == nil {
		return ""
	}
	return fmt.Sprintf("at://%s/%s/%s", e.DID, e.Commit.Collection, e.Commit.RKey)
}

// DecodeError is returned by Conn.Next for a message that is not a valid
// event. The connection remains usable.
type DecodeError struct {
	Raw []byte
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode jetstream event: %v", e.Err)
}

// Unwrap returns the underlying decode error.
func (e *DecodeError) Unwrap() error { return e.Err }
