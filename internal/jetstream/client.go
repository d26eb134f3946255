package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is a public Jetstream instance.
const DefaultURL = "wss://jetstream2.us-east.bsky.network/subscribe"

const (
	defaultHandshakeTimeout = 10 * time.Second
	maxMessageSize          = 1 << 20
)

// Client dials Jetstream subscriptions.
type Client struct {
	endpoint    string
	collections []string
	dialer      *websocket.Dialer
}

// NewClient creates a client for endpoint that asks for the given
// collections. An empty endpoint uses DefaultURL.
func NewClient(endpoint string, collections ...string) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	return &Client{
		endpoint:    endpoint,
		collections: collections,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

// SubscribeURL returns the URL dialled for the given cursor. A cursor of
// zero or less tails the live stream.
func (c *Client) SubscribeURL(cursor int64) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse jetstream url: %w", err)
	}
	q := u.Query()
	q.Del("wantedCollections")
	q.Del("cursor")
	for _, col := range c.collections {
		q.Add("wantedCollections", col)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials a subscription starting at cursor.
func (c *Client) Connect(ctx context.Context, cursor int64) (*Conn, error) {
	target, err := c.SubscribeURL(cursor)
	if err != nil {
		return nil, err
	}
	ws, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial jetstream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial jetstream: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)
	return &Conn{ws: ws}, nil
}

// Conn is an open subscription. Next must be called from one goroutine;
// Close may be called from any goroutine.
type Conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Next blocks for the next event. A malformed message yields a
// *DecodeError and the connection stays open; any other error means the
// connection is finished.
func (c *Conn) Next() (Event, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return Event{}, &DecodeError{Raw: data, Err: err}
		}
		return ev, nil
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
