// Package store provides the replyplace command log.
//
// The log is an append-only set of accepted commands with:
//   - Field-wise deduplication keyed by ir.CommandKey
//   - Snapshots in arrival order, copied under the log's own discipline
//
// Two implementations share the Log interface:
//   - Memory: mutex-guarded map + arrival slice (default)
//   - SQLite: a commands table with UNIQUE(key) and ON CONFLICT DO NOTHING,
//     opened on ":memory:" unless an operator chooses a file
//
// # Critical Patterns
//
// Identity is content-addressed. Two independently constructed commands
// with identical fields collapse to one entry; object identity is never
// consulted.
//
// Arrival order is NOT timestamp order. Chronological ordering is imposed
// by the canvas reducer at read time.
package store
