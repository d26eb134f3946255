package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandMarshalJSON(t *testing.T) {
	c := testCommand()
	c.Timestamp = c.Timestamp.Add(123 * time.Millisecond)

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"actor": "did:plc:alice",
		"x": 3,
		"y": 4,
		"colour": "#FF0000",
		"timestamp": "2025-03-14T12:00:00.123Z"
	}`, string(data))
}

func TestCommandUnmarshalJSONNormalizes(t *testing.T) {
	var c Command
	err := json.Unmarshal([]byte(`{"actor":"did:plc:alice","x":3,"y":4,"colour":"#FF0000","timestamp":"2025-03-14T13:00:00.123456+01:00"}`), &c)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-14T12:00:00.123Z", FormatTime(c.Timestamp))
	assert.Equal(t, time.Date(2025, 3, 14, 12, 0, 0, 123000000, time.UTC), c.Timestamp)
}

func TestCommandUnmarshalJSONBadTimestamp(t *testing.T) {
	var c Command
	err := json.Unmarshal([]byte(`{"actor":"a","x":0,"y":0,"colour":"#FFFFFF","timestamp":"yesterday"}`), &c)
	assert.Error(t, err)
}

func TestCommandValidate(t *testing.T) {
	c := testCommand()
	assert.NoError(t, c.Validate(10, 10))

	assert.Error(t, c.Validate(3, 10), "x == width is out of range")
	assert.Error(t, c.Validate(10, 4), "y == height is out of range")

	bad := c
	bad.Colour = "#ff0000"
	assert.Error(t, bad.Validate(10, 10), "lowercase colour is not normalized")

	bad = c
	bad.Actor = ""
	assert.Error(t, bad.Validate(10, 10))
}

func TestParseTime(t *testing.T) {
	ts, err := ParseTime("2024-11-20T08:15:30Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-11-20T08:15:30.000Z", FormatTime(ts))

	_, err = ParseTime("")
	assert.Error(t, err)
}

func TestValidColour(t *testing.T) {
	assert.True(t, ValidColour("#00FF7A"))
	assert.False(t, ValidColour("00FF7A"))
	assert.False(t, ValidColour("#00FF7"))
	assert.False(t, ValidColour("#00ff7a"))
}
