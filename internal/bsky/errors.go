package bsky

import (
	"errors"
	"fmt"
)

// Sentinel errors for thread fetches.
var (
	// ErrNotFound is returned when the root post does not exist.
	ErrNotFound = errors.New("post not found")
	// ErrBlocked is returned when the root post is hidden by a block.
	ErrBlocked = errors.New("post blocked")
)

// ShapeError reports a response that decoded but does not have the
// expected structure.
type ShapeError struct {
	URI    string
	Reason string
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("unexpected thread shape for %s: %s", e.URI, e.Reason)
}

// XRPCError is a non-2xx response from an XRPC endpoint.
type XRPCError struct {
	StatusCode int
	Name       string `json:"error"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *XRPCError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("xrpc %d %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("xrpc %d", e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *XRPCError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsPermanent reports whether err will not go away on retry.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBlocked) {
		return true
	}
	var shape *ShapeError
	if errors.As(err, &shape) {
		return true
	}
	var xe *XRPCError
	if errors.As(err, &xe) {
		return !xe.Temporary()
	}
	return false
}
