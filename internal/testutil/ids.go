package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable request IDs ("<prefix>-1", "<prefix>-2", ...).
//
// It satisfies the func() string generator accepted by server.WithRequestIDs,
// so responses can be compared against fixed expectations.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix uses "req".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "req"
	}
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next ID.
func (g *SequentialIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
