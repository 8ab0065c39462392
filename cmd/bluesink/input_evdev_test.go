package main

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeInputEvent(t *testing.T, ev inputEvent) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, ev))
	return buf.Bytes()
}

func TestDecodeInputEvent(t *testing.T) {
	want := inputEvent{Sec: 12, Usec: 34, Type: EV_KEY, Code: KEY_PLAYCD, Value: evValuePress}
	got, err := decodeInputEvent(encodeInputEvent(t, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = decodeInputEvent(make([]byte, inputEventSize-1))
	assert.Error(t, err)
}

func TestParseKeyCode(t *testing.T) {
	code, err := parseKeyCode("key_nextsong")
	require.NoError(t, err)
	assert.Equal(t, uint16(KEY_NEXTSONG), code)

	code, err = parseKeyCode("256")
	require.NoError(t, err)
	assert.Equal(t, uint16(256), code)

	_, err = parseKeyCode("KEY_EJECT_EVERYTHING")
	assert.Error(t, err)
}

func TestEvdevLine_MatchesConfiguredEdge(t *testing.T) {
	l := &evdevLine{name: "play", code: KEY_PLAYCD}
	require.NoError(t, l.SetEdge(EdgeRising))
	assert.True(t, l.matches(evValuePress))
	assert.False(t, l.matches(evValueRelease))
	assert.False(t, l.matches(evValueRepeat), "autorepeat is not an edge")

	require.NoError(t, l.SetEdge(EdgeFalling))
	assert.True(t, l.matches(evValueRelease))
	assert.False(t, l.matches(evValuePress))
}
