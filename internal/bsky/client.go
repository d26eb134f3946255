package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults for public AppView access.
const (
	DefaultService = "https://public.api.bsky.app"
	DefaultDepth   = 1000
	DefaultTimeout = 30 * time.Second

	getPostThreadPath = "/xrpc/app.bsky.feed.getPostThread"
	maxErrorBody      = 64 << 10
)

// Client fetches threads from an AppView. The zero value is not usable;
// construct with NewClient.
type Client struct {
	service string
	depth   int
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDepth sets the depth parameter sent with thread requests.
func WithDepth(depth int) ClientOption {
	return func(c *Client) {
		if depth > 0 {
			c.depth = depth
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient returns a client for service (for example DefaultService).
func NewClient(service string, opts ...ClientOption) *Client {
	if service == "" {
		service = DefaultService
	}
	c := &Client{
		service: strings.TrimRight(service, "/"),
		depth:   DefaultDepth,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPostThread fetches the thread rooted at uri.
//
// The returned node is always a #threadViewPost with a non-nil Replies
// slice. A missing root yields ErrNotFound, a blocked root ErrBlocked, and
// any other structural surprise a *ShapeError. HTTP failures are returned
// as *XRPCError.
func (c *Client) GetPostThread(ctx context.Context, uri string) (*ThreadNode, error) {
	q := url.Values{}
	q.Set("uri", uri)
	q.Set("depth", strconv.Itoa(c.depth))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.service+getPostThreadPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get post thread: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(uri, resp)
	}

	var body threadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &ShapeError{URI: uri, Reason: "decode body: " + err.Error()}
	}
	return checkRoot(uri, body.Thread)
}

func decodeError(uri string, resp *http.Response) error {
	xe := &XRPCError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, xe)
	if resp.StatusCode == http.StatusBadRequest && xe.Name == "NotFound" {
		return fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	return xe
}

func checkRoot(uri string, root *ThreadNode) (*ThreadNode, error) {
	if root == nil {
		return nil, &ShapeError{URI: uri, Reason: "missing thread"}
	}
	switch root.Type {
	case TypeThreadViewPost:
	case TypeNotFoundPost:
		return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
	case TypeBlockedPost:
		return nil, fmt.Errorf("%s: %w", uri, ErrBlocked)
	default:
		return nil, &ShapeError{URI: uri, Reason: fmt.Sprintf("root type %q", root.Type)}
	}
	if root.Post == nil {
		return nil, &ShapeError{URI: uri, Reason: "root has no post"}
	}
	if root.Replies == nil {
		return nil, &ShapeError{URI: uri, Reason: "root has no replies array"}
	}
	return root, nil
}
