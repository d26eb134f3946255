package harness

import (
	"github.com/roach88/replyplace/internal/canvas"
	"github.com/roach88/replyplace/internal/engine"
	"github.com/roach88/replyplace/internal/ingest"
	"github.com/roach88/replyplace/internal/ir"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool

	// Errors contains assertion failure messages.
	Errors []string

	// Log is the final command log in arrival order.
	Log []ir.Command

	// View is the log reduced with the scenario's canvas options.
	View canvas.View

	// Backfill and BackfillErr report the backfill run, if any.
	Backfill    ingest.BackfillResult
	BackfillErr error

	// LiveSubmitted counts live events that produced a command.
	// LiveDropped counts raw events that were not valid JSON.
	LiveSubmitted int
	LiveDropped   int

	// Engine holds the engine's per-source counters.
	Engine engine.Stats
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		Log:    []ir.Command{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
