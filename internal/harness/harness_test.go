package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/replyplace/internal/ir"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios_AllPass(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"backfill_live_merge", "live_filtering", "ordering_and_stats"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "ordering_and_stats")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_BackfillLiveMerge(t *testing.T) {
	result, err := Run(loadTestScenario(t, "backfill_live_merge"))
	require.NoError(t, err)

	require.Len(t, result.Log, 2)
	assert.Equal(t, "did:plc:alice", result.Log[0].Actor)
	assert.Equal(t, "did:plc:bob", result.Log[1].Actor)
	assert.Equal(t, int64(1), result.Engine.Sources[ir.SourceBackfill].Accepted)
	assert.Equal(t, int64(1), result.Engine.Sources[ir.SourceLive].Accepted)
	assert.Equal(t, int64(1), result.Engine.Sources[ir.SourceLive].Duplicates)
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	s := &Scenario{
		Name:        "wrong_expectations",
		Description: "Every assertion here is false",
		Canvas:      CanvasSpec{Width: 2, Height: 2},
		Live: []LiveEvent{
			{Actor: "did:plc:a", Text: "pixel 1,1 #FF0000", CreatedAt: "2024-01-01T00:00:01.000Z"},
		},
		Assertions: []Assertion{
			{Type: AssertLogSize, Count: 5},
			{Type: AssertCell, X: 1, Y: 1, Colour: "#00FF00"},
			{Type: AssertCell, X: 7, Y: 7, Colour: "#00FF00"},
			{Type: AssertHistoryLen, Count: 0},
			{Type: AssertActorStats, Actor: "did:plc:a", Count: 2},
			{Type: AssertActorStats, Actor: "did:plc:a", Count: 1, Colours: map[string]int{"#0000FF": 1}},
			{Type: AssertActorStats, Actor: "did:plc:nobody", Count: 1},
			{Type: AssertDuplicates, Source: "live", Count: 3},
			{Type: AssertBackfillError, Error: ErrorNotFound},
		},
	}
	require.NoError(t, validateScenario(s))

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, len(s.Assertions))
	assert.Contains(t, result.Errors[0], "Expected: 5 commands")
	assert.Contains(t, result.Errors[0], "did:plc:a (1,1) #FF0000 @ 2024-01-01T00:00:01.000Z")
	assert.Contains(t, result.Errors[2], "outside the 2x2 grid")
}

func TestClassifyBackfillError(t *testing.T) {
	for _, name := range []string{"backfill_not_found", "backfill_no_replies", "backfill_unavailable"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestScenario(t, name))
			require.NoError(t, err)
			assert.Error(t, result.BackfillErr)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
	assert.Equal(t, ErrorNone, ClassifyBackfillError(nil))
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type:     AssertLogSize,
		Expected: "2 commands",
		Actual:   "1 commands",
		Log:      []ir.Command{{Actor: "did:plc:a", X: 1, Y: 2, Colour: "#ABCDEF"}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: log_size")
	assert.Contains(t, msg, "Expected: 2 commands")
	assert.Contains(t, msg, "Actual: 1 commands")
	assert.Contains(t, msg, "[1] did:plc:a (1,2) #ABCDEF")
}

func TestSnapshot_MatchesGoldenFile(t *testing.T) {
	result, err := Run(loadTestScenario(t, "live_filtering"))
	require.NoError(t, err)
	data, err := Snapshot("live_filtering", result)
	require.NoError(t, err)

	want, err := os.ReadFile(filepath.Join(GoldenDir, "live_filtering.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(data))
}
