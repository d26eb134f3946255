package parser

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/replyplace/internal/ir"
)

const actor = "did:plc:alice"

func TestParse_WellFormed(t *testing.T) {
	p := New(100, 100)

	tests := []struct {
		name string
		text string
		want ir.Placement
	}{
		{"canonical", "pixel 15,20 #FF0000", ir.Placement{Actor: actor, X: 15, Y: 20, Colour: "#FF0000"}},
		{"lowercase hex", "pixel 1,2 #ff00aa", ir.Placement{Actor: actor, X: 1, Y: 2, Colour: "#FF00AA"}},
		{"mixed case hex", "pixel 1,2 #fF0a0B", ir.Placement{Actor: actor, X: 1, Y: 2, Colour: "#FF0A0B"}},
		{"space after comma", "pixel 3, 4 #000000", ir.Placement{Actor: actor, X: 3, Y: 4, Colour: "#000000"}},
		{"space before comma", "pixel 3 ,4 #000000", ir.Placement{Actor: actor, X: 3, Y: 4, Colour: "#000000"}},
		{"no spaces", "pixel3,4#000000", ir.Placement{Actor: actor, X: 3, Y: 4, Colour: "#000000"}},
		{"embedded in prose", "hello! pixel 0,0 #ABCDEF thanks", ir.Placement{Actor: actor, X: 0, Y: 0, Colour: "#ABCDEF"}},
		{"leading zeros", "pixel 007,010 #123456", ir.Placement{Actor: actor, X: 7, Y: 10, Colour: "#123456"}},
		{"max corner", "pixel 99,99 #FFFFFF", ir.Placement{Actor: actor, X: 99, Y: 99, Colour: "#FFFFFF"}},
		{"newlines as whitespace", "pixel\n5,\n6\n#0000FF", ir.Placement{Actor: actor, X: 5, Y: 6, Colour: "#0000FF"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Parse(actor, tt.text)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_NoMatch(t *testing.T) {
	p := New(100, 100)

	texts := []string{
		"",
		"just chatting",
		"pixel",
		"pixel 1 2 #FF0000",
		"pixel 1,2 FF0000",
		"pixel 1,2 #FF00",
		"pixel -1,2 #FF0000",
		"Pixel 1,2 #FF0000",
		"pixel 1,2 #GG0000",
	}

	for _, text := range texts {
		t.Run(fmt.Sprintf("%q", text), func(t *testing.T) {
			_, ok := p.Parse(actor, text)
			assert.False(t, ok)
		})
	}
}

func TestParse_OutOfBounds(t *testing.T) {
	p := New(100, 100)

	for _, text := range []string{
		"pixel 100,0 #FF0000",
		"pixel 0,100 #FF0000",
		"pixel 9999,9999 #000000",
		"pixel 99999999999999999999999,0 #000000",
	} {
		_, ok := p.Parse(actor, text)
		assert.False(t, ok, text)
	}
}

func TestParse_OnlyFirstMatchHonored(t *testing.T) {
	p := New(100, 100)

	got, ok := p.Parse(actor, "pixel 1,1 #111111 and pixel 2,2 #222222")
	assert.True(t, ok)
	assert.Equal(t, ir.Placement{Actor: actor, X: 1, Y: 1, Colour: "#111111"}, got)

	// An out-of-bounds first command is not rescued by a later valid one.
	_, ok = p.Parse(actor, "pixel 500,500 #111111 pixel 2,2 #222222")
	assert.False(t, ok)
}

func TestParse_RespectsGridSize(t *testing.T) {
	p := New(10, 5)
	assert.Equal(t, 10, p.Width())
	assert.Equal(t, 5, p.Height())

	_, ok := p.Parse(actor, "pixel 9,4 #000000")
	assert.True(t, ok)

	_, ok = p.Parse(actor, "pixel 9,5 #000000")
	assert.False(t, ok)
}
