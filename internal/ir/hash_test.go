package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testCommand() Command {
	return Command{
		Actor:     "did:plc:alice",
		X:         3,
		Y:         4,
		Colour:    "#FF0000",
		Timestamp: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestCommandKeyDeterminism(t *testing.T) {
	c := testCommand()

	k1 := CommandKey(c)
	k2 := CommandKey(c)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64, "SHA-256 hex is 64 characters")
}

func TestCommandKeyIndependentlyConstructed(t *testing.T) {
	// Same event reconstructed from a different timezone representation.
	a := testCommand()
	b := Placement{Actor: "did:plc:alice", X: 3, Y: 4, Colour: "#FF0000"}.
		At(time.Date(2025, 3, 14, 13, 0, 0, 0, time.FixedZone("CET", 3600)))

	assert.Equal(t, CommandKey(a), CommandKey(b))
}

func TestCommandKeyChangesWithEveryField(t *testing.T) {
	base := testCommand()
	baseKey := CommandKey(base)

	variants := map[string]func(c *Command){
		"actor":     func(c *Command) { c.Actor = "did:plc:bob" },
		"x":         func(c *Command) { c.X = 4 },
		"y":         func(c *Command) { c.Y = 3 },
		"colour":    func(c *Command) { c.Colour = "#00FF00" },
		"timestamp": func(c *Command) { c.Timestamp = c.Timestamp.Add(time.Millisecond) },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.NotEqual(t, baseKey, CommandKey(c))
		})
	}
}

func TestCommandKeyDistinguishesRawActorBytes(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"nfc vs nfd", "caf\u00e9", "cafe\u0301"},
		{"invalid utf-8", "\xff", "\xfe"},
		{"invalid utf-8 vs replacement char", "\xff", "\ufffd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := testCommand(), testCommand()
			a.Actor, b.Actor = tt.a, tt.b
			assert.NotEqual(t, CommandKey(a), CommandKey(b))
		})
	}
}

func TestCommandKeyFieldBoundaries(t *testing.T) {
	a, b := testCommand(), testCommand()
	// X and Y concatenate to "123" either way.
	a.X, a.Y = 1, 23
	b.X, b.Y = 12, 3
	assert.NotEqual(t, CommandKey(a), CommandKey(b))
}
