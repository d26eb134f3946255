package store

import (
	"context"
	"fmt"

	"github.com/roach88/replyplace/internal/ir"
)

// Log is the deduplicated, append-only command log.
//
// Implementations must make the dedup check and the insert atomic, and
// Snapshot must never expose a partially written state.
type Log interface {
	// Insert adds cmd and reports whether it was new.
	// A field-wise duplicate returns (false, nil).
	Insert(ctx context.Context, cmd ir.Command) (bool, error)

	// Snapshot returns a copy of every accepted command in arrival order.
	// Returns an empty slice (not nil) if the log is empty.
	Snapshot(ctx context.Context) ([]ir.Command, error)

	// Len returns the number of accepted commands.
	Len(ctx context.Context) (int, error)

	// Close releases resources held by the log.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open creates a Log for the named driver.
// The dsn is only used by the sqlite driver.
func Open(driver, dsn string) (Log, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
