package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogicalCommand(t *testing.T) {
	tests := []struct {
		in   string
		want LogicalCommand
	}{
		{"forward", CommandForward},
		{"next", CommandForward},
		{"Backward", CommandBackward},
		{"previous", CommandBackward},
		{" pause ", CommandPause},
		{"PLAY", CommandPlay},
	}
	for _, tt := range tests {
		got, err := ParseLogicalCommand(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLogicalCommand("stop")
	assert.Error(t, err)
}

func TestLogicalCommand_TextRoundTripRejectsUnknown(t *testing.T) {
	var c LogicalCommand
	require.NoError(t, c.UnmarshalText([]byte("pause")))
	assert.Equal(t, CommandPause, c)

	_, err := LogicalCommand(9).MarshalText()
	assert.Error(t, err)
	assert.False(t, LogicalCommand(0).Valid())
}

func TestTransactionLabel_NextWraps(t *testing.T) {
	assert.Equal(t, TransactionLabel(1), TransactionLabel(0).Next())
	assert.Equal(t, TransactionLabel(15), TransactionLabel(14).Next())
	assert.Equal(t, TransactionLabel(0), TransactionLabel(15).Next())

	// Sixteen advances return to the start.
	l := TransactionLabel(7)
	for i := 0; i < 16; i++ {
		l = l.Next()
	}
	assert.Equal(t, TransactionLabel(7), l)
}
