package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/replyplace/internal/ir"
)

// GoldenDir is where scenario snapshots are kept, relative to the test.
const GoldenDir = "testdata/golden"

// Snapshot renders the observable outcome of a run as canonical JSON:
// the log in arrival order, the reduced view, and the ingestion counters.
// The same scenario always produces byte-identical output.
func Snapshot(name string, r *Result) ([]byte, error) {
	log := make([]any, len(r.Log))
	for i, c := range r.Log {
		log[i] = c.CanonicalMap()
	}

	doc := map[string]any{
		"scenario": name,
		"log":      log,
		"view":     r.View.CanonicalMap(),
		"backfill": map[string]any{
			"replies":  r.Backfill.Replies,
			"commands": r.Backfill.Commands,
			"dropped":  r.Backfill.Dropped,
			"error":    ClassifyBackfillError(r.BackfillErr),
		},
		"live": map[string]any{
			"submitted": r.LiveSubmitted,
			"dropped":   r.LiveDropped,
		},
	}
	return ir.MarshalCanonical(doc)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
