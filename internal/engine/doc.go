// Package engine implements the replyplace ingestion loop.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every producer (backfill, live subscriber) submits candidate commands to
// an unbounded FIFO queue. Engine.Run dequeues them one at a time and is the
// only goroutine that inserts into the store.Log. This ensures:
// - Dedup check and insert are never interleaved between producers
// - A slow log never blocks a websocket reader
// - Snapshot readers only ever see fully applied inserts
//
// Event Processing Flow:
// 1. Producer calls Submit(source, command)
// 2. Run() dequeues the event
// 3. The command is inserted into the log (duplicates collapse)
// 4. Counters and logs record accepted / duplicate / failed outcomes
//
// Sync() enqueues a barrier that completes once every earlier submission
// has been applied, which lets the backfill wait for its seed to land.
//
// ERROR HANDLING: a failed insert is logged and counted; the loop continues.
// No single command may halt ingestion.
package engine
