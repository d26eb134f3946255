package canvas

import (
	"encoding/json"

	"github.com/roach88/replyplace/internal/ir"
)

type actorStatsJSON struct {
	PixelsPlaced int            `json:"pixelsPlaced"`
	LastPlaced   string         `json:"lastPlaced"`
	Colours      map[string]int `json:"colours"`
}

// MarshalJSON renders LastPlaced in ir.TimestampLayout.
func (s ActorStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(actorStatsJSON{
		PixelsPlaced: s.PixelsPlaced,
		LastPlaced:   ir.FormatTime(s.LastPlaced),
		Colours:      s.Colours,
	})
}

type viewJSON struct {
	Width      int                   `json:"width"`
	Height     int                   `json:"height"`
	Grid       [][]string            `json:"canvas"`
	History    []ir.Command          `json:"history"`
	Stats      map[string]ActorStats `json:"stats"`
	LastUpdate *string               `json:"lastUpdate"`
}

// MarshalJSON renders the view for HTTP consumers.
// lastUpdate is null for an empty log.
func (v View) MarshalJSON() ([]byte, error) {
	out := viewJSON{
		Width:   v.Width,
		Height:  v.Height,
		Grid:    v.Grid,
		History: v.History,
		Stats:   v.Stats,
	}
	if v.LastUpdate != nil {
		ts := ir.FormatTime(*v.LastUpdate)
		out.LastUpdate = &ts
	}
	return json.Marshal(out)
}

// Canonical renders the view as RFC 8785 canonical JSON.
// Two views reduced from the same snapshot are byte-identical.
func (v View) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(v.CanonicalMap())
}

// CanonicalMap is the view as a tree ir.MarshalCanonical accepts.
// lastUpdate is omitted for an empty log (canonical JSON has no null).
func (v View) CanonicalMap() map[string]any {
	grid := make([]any, len(v.Grid))
	for y, row := range v.Grid {
		grid[y] = row
	}

	history := make([]any, len(v.History))
	for i, c := range v.History {
		history[i] = c.CanonicalMap()
	}

	stats := make(map[string]any, len(v.Stats))
	for actor, s := range v.Stats {
		stats[actor] = map[string]any{
			"pixelsPlaced": s.PixelsPlaced,
			"lastPlaced":   ir.FormatTime(s.LastPlaced),
			"colours":      s.Colours,
		}
	}

	doc := map[string]any{
		"width":   v.Width,
		"height":  v.Height,
		"canvas":  grid,
		"history": history,
		"stats":   stats,
	}
	if v.LastUpdate != nil {
		doc["lastUpdate"] = ir.FormatTime(*v.LastUpdate)
	}
	return doc
}
