// Package harness runs ingestion scenarios end to end.
//
// A scenario describes a reply thread to backfill, a sequence of live
// firehose events, and assertions over the resulting command log and
// canvas view. The harness drives the production components: the thread
// is served over HTTP by a fake AppView and fetched by bsky.Client, live
// events pass through ingest.Subscriber.HandleEvent, and every command
// goes through engine.Engine into a store.Log.
//
// # Scenario Format
//
//	name: backfill_live_merge
//	description: "Live duplicates of backfilled replies collapse"
//	canvas: { width: 100, height: 100 }
//	backfill:
//	  replies:
//	    - actor: did:plc:alice
//	      text: "pixel 0,0 #FF0000"
//	      created_at: "2024-01-01T00:00:01.000Z"
//	live:
//	  - actor: did:plc:alice
//	    text: "pixel 0,0 #FF0000"
//	    created_at: "2024-01-01T00:00:01.000Z"
//	assertions:
//	  - type: log_size
//	    count: 1
//	  - type: cell
//	    x: 0
//	    y: 0
//	    colour: "#FF0000"
//
// # Assertion Types
//
//   - log_size: the log holds exactly count commands
//   - cell: the view's (x, y) cell has colour
//   - history_len: the view's history holds exactly count commands
//   - actor_stats: actor placed count pixels, optionally with a colour histogram
//   - duplicates: the engine saw count duplicates from source
//   - backfill_error: the backfill failed with error (not_found, blocked,
//     shape, unavailable) or succeeded (none)
//
// # Deterministic Testing
//
// Each scenario runs against a fresh log. Live events without an explicit
// time_us are numbered in order, so a snapshot of the run is reproducible
// and can be compared against a golden file.
package harness
