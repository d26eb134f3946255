package store

import (
	"context"
	"sync"

	"github.com/roach88/replyplace/internal/ir"
)

// Memory is an in-process Log.
//
// Thread-safety: all methods are safe for concurrent use. Insert holds the
// write lock across the dedup check and the append.
type Memory struct {
	mu       sync.RWMutex
	keys     map[string]struct{}
	commands []ir.Command
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		keys:     make(map[string]struct{}),
		commands: make([]ir.Command, 0, 64),
	}
}

// Insert adds cmd unless a field-wise identical command is present.
func (m *Memory) Insert(ctx context.Context, cmd ir.Command) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := ir.CommandKey(cmd)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[key]; exists {
		return false, nil
	}
	m.keys[key] = struct{}{}
	m.commands = append(m.commands, cmd)
	return true, nil
}

// Snapshot returns a point-in-time copy of the log in arrival order.
func (m *Memory) Snapshot(ctx context.Context) ([]ir.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ir.Command, len(m.commands))
	copy(out, m.commands)
	return out, nil
}

// Len returns the number of accepted commands.
func (m *Memory) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.commands), nil
}

// Close is a no-op; the memory log holds no external resources.
func (m *Memory) Close() error {
	return nil
}
