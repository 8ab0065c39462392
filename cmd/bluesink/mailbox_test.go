package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionMailbox_LastWriteWins(t *testing.T) {
	var m ActionMailbox

	_, ok := m.Take()
	assert.False(t, ok, "empty mailbox")

	assert.False(t, m.Put(CommandForward))
	assert.True(t, m.Put(CommandPause), "second put overwrites")

	cmd, ok := m.Peek()
	require.True(t, ok)
	assert.Equal(t, CommandPause, cmd)

	cmd, ok = m.Take()
	require.True(t, ok)
	assert.Equal(t, CommandPause, cmd)

	_, ok = m.Take()
	assert.False(t, ok, "take clears the slot")
}

func TestActionMailbox_ConcurrentPutsLeaveOneCommand(t *testing.T) {
	var m ActionMailbox
	var wg sync.WaitGroup
	for _, c := range AllCommands {
		wg.Add(1)
		go func(c LogicalCommand) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Put(c)
			}
		}(c)
	}
	wg.Wait()

	cmd, ok := m.Take()
	require.True(t, ok)
	assert.True(t, cmd.Valid())
	_, ok = m.Take()
	assert.False(t, ok)
}

func TestWakeSignal_PostsCollapse(t *testing.T) {
	w := NewWakeSignal()
	w.Post()
	w.Post()
	w.Post()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Wait(ctx))

	// Only one wake was pending.
	err := w.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWakeSignal_Drain(t *testing.T) {
	w := NewWakeSignal()
	w.Post()
	w.Drain()
	w.Drain()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.Canceled)
}
