package canvas

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replyplace/internal/ir"
	"github.com/roach88/replyplace/internal/testutil"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func cmd(actor string, x, y int, colour string, sec int) ir.Command {
	return ir.Command{
		Actor:     actor,
		X:         x,
		Y:         y,
		Colour:    colour,
		Timestamp: epoch.Add(time.Duration(sec) * time.Second),
	}
}

func TestReduce_EmptyLog(t *testing.T) {
	v := Reduce(nil, Options{Width: 3, Height: 2})

	require.Len(t, v.Grid, 2)
	for _, row := range v.Grid {
		assert.Equal(t, []string{"#FFFFFF", "#FFFFFF", "#FFFFFF"}, row)
	}
	assert.NotNil(t, v.History)
	assert.Empty(t, v.History)
	assert.Empty(t, v.Stats)
	assert.Nil(t, v.LastUpdate)
}

func TestReduce_LaterTimestampWins(t *testing.T) {
	red := cmd("did:plc:a", 0, 0, "#FF0000", 1)
	green := cmd("did:plc:a", 0, 0, "#00FF00", 2)

	for name, order := range map[string][]ir.Command{
		"chronological": {red, green},
		"reversed":      {green, red},
	} {
		t.Run(name, func(t *testing.T) {
			v := Reduce(order, Options{Width: 10, Height: 10})
			colour, ok := v.Cell(0, 0)
			require.True(t, ok)
			assert.Equal(t, "#00FF00", colour)
		})
	}
}

func TestReduce_TiesKeepArrivalOrder(t *testing.T) {
	first := cmd("did:plc:a", 0, 0, "#FF0000", 1)
	second := cmd("did:plc:b", 0, 0, "#0000FF", 1)

	v := Reduce([]ir.Command{first, second}, Options{Width: 1, Height: 1})
	colour, _ := v.Cell(0, 0)
	assert.Equal(t, "#0000FF", colour)

	v = Reduce([]ir.Command{second, first}, Options{Width: 1, Height: 1})
	colour, _ = v.Cell(0, 0)
	assert.Equal(t, "#FF0000", colour)
}

func TestReduce_CustomBackground(t *testing.T) {
	v := Reduce([]ir.Command{cmd("did:plc:a", 1, 0, "#FF0000", 1)}, Options{Width: 2, Height: 1, Background: "#000000"})
	assert.Equal(t, [][]string{{"#000000", "#FF0000"}}, v.Grid)
}

func TestReduce_HistoryBound(t *testing.T) {
	cmds := make([]ir.Command, 150)
	for i := range cmds {
		// Arrival order deliberately scrambled relative to time.
		sec := (i * 7) % 150
		cmds[i] = cmd(fmt.Sprintf("did:plc:%d", sec), sec%10, sec/10, "#FF0000", sec)
	}

	v := Reduce(cmds, Options{Width: 10, Height: 15, HistoryLimit: 100})
	require.Len(t, v.History, 100)
	for i, c := range v.History {
		assert.Equal(t, epoch.Add(time.Duration(50+i)*time.Second), c.Timestamp)
	}

	short := Reduce(cmds[:30], Options{Width: 10, Height: 15, HistoryLimit: 100})
	assert.Len(t, short.History, 30)
}

func TestReduce_ReverseArrivalReplaysChronologically(t *testing.T) {
	clock := testutil.NewDeterministicClock(time.Time{}, 250*time.Millisecond)
	cmds := make([]ir.Command, 20)
	for i := range cmds {
		cmds[len(cmds)-1-i] = ir.Command{
			Actor:     "did:plc:a",
			X:         0,
			Y:         0,
			Colour:    fmt.Sprintf("#0000%02X", i),
			Timestamp: clock.Next(),
		}
	}

	v := Reduce(cmds, Options{Width: 1, Height: 1, HistoryLimit: 5})
	cell, ok := v.Cell(0, 0)
	require.True(t, ok)
	assert.Equal(t, "#000013", cell)
	require.NotNil(t, v.LastUpdate)
	assert.Equal(t, clock.Current(), *v.LastUpdate)
	require.Len(t, v.History, 5)
	assert.Equal(t, "#00000F", v.History[0].Colour)
	assert.Equal(t, "#000013", v.RecentFirst(1)[0].Colour)
}

func TestReduce_StatisticsAccumulation(t *testing.T) {
	cmds := []ir.Command{
		cmd("did:plc:a", 0, 0, "#FF0000", 1),
		cmd("did:plc:a", 1, 0, "#FF0000", 3),
		cmd("did:plc:a", 2, 0, "#0000FF", 2),
		cmd("did:plc:b", 3, 0, "#FF0000", 4),
	}

	v := Reduce(cmds, Options{Width: 10, Height: 10})

	a := v.Stats["did:plc:a"]
	assert.Equal(t, 3, a.PixelsPlaced)
	assert.Equal(t, map[string]int{"#FF0000": 2, "#0000FF": 1}, a.Colours)
	assert.Equal(t, epoch.Add(3*time.Second), a.LastPlaced, "last placed follows timestamp order")

	b := v.Stats["did:plc:b"]
	assert.Equal(t, 1, b.PixelsPlaced)

	require.NotNil(t, v.LastUpdate)
	assert.Equal(t, epoch.Add(4*time.Second), *v.LastUpdate)
}

func TestReduce_OutOfGridCommandsCounted(t *testing.T) {
	v := Reduce([]ir.Command{cmd("did:plc:a", 50, 50, "#FF0000", 1)}, Options{Width: 2, Height: 2})
	assert.Equal(t, 1, v.Stats["did:plc:a"].PixelsPlaced)
	for _, row := range v.Grid {
		assert.Equal(t, []string{"#FFFFFF", "#FFFFFF"}, row)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	cmds := []ir.Command{
		cmd("did:plc:a", 0, 0, "#00FF00", 2),
		cmd("did:plc:a", 0, 0, "#FF0000", 1),
	}
	before := append([]ir.Command(nil), cmds...)

	Reduce(cmds, Options{})
	assert.Equal(t, before, cmds)
}

func TestReduce_Deterministic(t *testing.T) {
	cmds := []ir.Command{
		cmd("did:plc:c", 4, 4, "#123456", 5),
		cmd("did:plc:a", 0, 0, "#FF0000", 1),
		cmd("did:plc:b", 0, 0, "#00FF00", 1),
		cmd("did:plc:a", 2, 3, "#0000FF", 3),
	}

	first, err := Reduce(cmds, Options{Width: 5, Height: 5}).Canonical()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Reduce(cmds, Options{Width: 5, Height: 5}).Canonical()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestView_CanonicalGolden(t *testing.T) {
	cmds := []ir.Command{
		cmd("did:plc:a", 0, 0, "#00FF00", 3),
		cmd("did:plc:a", 0, 0, "#FF0000", 1),
		cmd("did:plc:b", 1, 1, "#0000FF", 2),
	}
	v := Reduce(cmds, Options{Width: 2, Height: 2, HistoryLimit: 2})

	data, err := v.Canonical()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "two_by_two", data)
}

func TestView_MarshalJSON(t *testing.T) {
	v := Reduce([]ir.Command{cmd("did:plc:a", 0, 0, "#FF0000", 1)}, Options{Width: 1, Height: 1})

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"width": 1,
		"height": 1,
		"canvas": [["#FF0000"]],
		"history": [{"actor":"did:plc:a","x":0,"y":0,"colour":"#FF0000","timestamp":"2025-01-01T00:00:01.000Z"}],
		"stats": {"did:plc:a": {"pixelsPlaced": 1, "lastPlaced": "2025-01-01T00:00:01.000Z", "colours": {"#FF0000": 1}}},
		"lastUpdate": "2025-01-01T00:00:01.000Z"
	}`, string(data))

	empty, err := json.Marshal(Reduce(nil, Options{Width: 1, Height: 1}))
	require.NoError(t, err)
	assert.Contains(t, string(empty), `"lastUpdate":null`)
	assert.Contains(t, string(empty), `"history":[]`)
}

func TestView_RecentFirst(t *testing.T) {
	cmds := []ir.Command{
		cmd("did:plc:a", 0, 0, "#FF0000", 1),
		cmd("did:plc:a", 0, 0, "#00FF00", 2),
		cmd("did:plc:a", 0, 0, "#0000FF", 3),
	}
	v := Reduce(cmds, Options{Width: 1, Height: 1})

	recent := v.RecentFirst(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "#0000FF", recent[0].Colour)
	assert.Equal(t, "#00FF00", recent[1].Colour)

	assert.Len(t, v.RecentFirst(0), 3)
	assert.Equal(t, "#FF0000", v.History[0].Colour, "RecentFirst must not reorder History")
}

func TestView_Cell(t *testing.T) {
	v := Reduce(nil, Options{Width: 2, Height: 2})
	_, ok := v.Cell(2, 0)
	assert.False(t, ok)
	_, ok = v.Cell(0, -1)
	assert.False(t, ok)
}
