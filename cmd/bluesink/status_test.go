package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainBroadcasts(b *StatusBoard) []StateBroadcast {
	var out []StateBroadcast
	for {
		select {
		case m := <-b.Broadcasts():
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestStatusBoard_DispatcherStateBroadcastOnlyOnChange(t *testing.T) {
	b := NewStatusBoard(0, 16, nil)
	b.DispatcherStateChanged(DispatcherArmed)
	b.DispatcherStateChanged(DispatcherArmed)
	b.DispatcherStateChanged(DispatcherDispatching)

	got := drainBroadcasts(b)
	require.Len(t, got, 2)
	assert.Equal(t, DispatcherArmed, got[0].(BroadcastDispatcherState).State)
	assert.Equal(t, DispatcherDispatching, got[1].(BroadcastDispatcherState).State)
}

func TestStatusBoard_CommandDispatchedTracksNextLabel(t *testing.T) {
	t0 := time.Unix(1700000000, 0).UTC()
	b := NewStatusBoard(15, 16, nil)
	b.now = func() time.Time { return t0 }

	b.CommandDispatched(15, CommandForward)

	snap := b.Snapshot()
	assert.Equal(t, uint8(0), snap.NextLabel)
	assert.Equal(t, "forward", snap.LastCommand)
	assert.Equal(t, uint64(1), snap.Dispatched)
	require.NotNil(t, snap.LastDispatchAt)
	assert.True(t, snap.LastDispatchAt.Equal(t0))

	got := drainBroadcasts(b)
	require.Len(t, got, 1)
	assert.Equal(t, BroadcastCommandDispatched{Label: 15, Command: CommandForward, At: t0}, got[0])
}

func TestStatusBoard_SnapshotIsACopy(t *testing.T) {
	b := NewStatusBoard(0, 16, nil)
	b.PairingRequest(ConfirmationRequest{Number: 1}, true, "auto_accept")

	snap := b.Snapshot()
	snap.LastPairing.Accepted = false

	assert.True(t, b.Snapshot().LastPairing.Accepted)
}

func TestStatusBoard_StreamEvents(t *testing.T) {
	b := NewStatusBoard(0, 16, nil)
	b.StreamEventObserved(ConnectionStateChanged{Connected: true})
	b.StreamEventObserved(AudioStateChanged{Playing: true})
	b.StreamEventObserved(ConnectionStateChanged{Connected: false})

	snap := b.Snapshot()
	assert.False(t, snap.StreamConnected)
	assert.False(t, snap.StreamPlaying, "disconnect clears playing")

	got := drainBroadcasts(b)
	require.Len(t, got, 3)
	ev := got[1].(BroadcastStreamEvent)
	assert.Equal(t, "audio_state", ev.Kind)
	require.NotNil(t, ev.Playing)
	assert.True(t, *ev.Playing)
	assert.Nil(t, ev.Connected)
}

func TestStatusBoard_AudioStats(t *testing.T) {
	b := NewStatusBoard(0, 16, nil)
	b.FrameForwarded(100, time.Millisecond)
	b.FrameForwarded(50, time.Millisecond)
	b.ForwardFailed(errors.New("x"))

	snap := b.Snapshot()
	assert.Equal(t, uint64(2), snap.FramesForwarded)
	assert.Equal(t, uint64(150), snap.BytesForwarded)
	assert.Equal(t, uint64(1), snap.ForwardFailures)

	got := drainBroadcasts(b)
	require.Len(t, got, 3)
	last := got[2].(BroadcastAudioStats)
	assert.Equal(t, uint64(2), last.Frames)
	assert.Equal(t, uint64(1), last.Failures)
}

func TestStatusBoard_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	b := NewStatusBoard(0, 1, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.FrameForwarded(1, 0)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	assert.Len(t, drainBroadcasts(b), 1)
	assert.Equal(t, uint64(10), b.Snapshot().FramesForwarded)
}
