package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMRing_FillReturnsWrittenBytesThenSilence(t *testing.T) {
	r := newPCMRing(64)
	require.NoError(t, r.Write([]byte{1, 2, 3, 4}, time.Second))
	assert.Equal(t, 4, r.Buffered())

	out := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	n := r.Fill(out)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, out)

	// Underrun yields pure silence.
	out = []byte{5, 5}
	assert.Equal(t, 0, r.Fill(out))
	assert.Equal(t, []byte{0, 0}, out)
}

func TestPCMRing_WriteTimesOutWhenFull(t *testing.T) {
	r := newPCMRing(8)
	require.NoError(t, r.Write(make([]byte, 8), time.Second))

	start := time.Now()
	err := r.Write([]byte{1, 2}, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrForwardTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Contains(t, err.Error(), "2 bytes not queued")

	err = r.Write([]byte{1}, 0)
	assert.ErrorIs(t, err, ErrForwardTimeout)
}

func TestPCMRing_WriteBlocksUntilFillMakesSpace(t *testing.T) {
	r := newPCMRing(8)
	require.NoError(t, r.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}, time.Second))

	done := make(chan error, 1)
	go func() { done <- r.Write([]byte{9, 10, 11, 12}, time.Second) }()

	select {
	case err := <-done:
		t.Fatalf("write returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	out := make([]byte, 4)
	r.Fill(out)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write did not resume after fill")
	}

	out = make([]byte, 8)
	assert.Equal(t, 8, r.Fill(out))
	assert.Equal(t, []byte{5, 6, 7, 8, 9, 10, 11, 12}, out)
}

func TestPCMRing_TimedOutWriteQueuesNothing(t *testing.T) {
	r := newPCMRing(8)
	require.NoError(t, r.Write([]byte{1, 1, 1, 1}, time.Second))

	err := r.Write([]byte{2, 2, 2, 2, 2, 2, 2, 2}, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrForwardTimeout)
	assert.Equal(t, 4, r.Buffered())

	out := make([]byte, 8)
	assert.Equal(t, 4, r.Fill(out))
	assert.Equal(t, []byte{1, 1, 1, 1, 0, 0, 0, 0}, out)
}

func TestPCMRing_RejectsBufferLargerThanCapacity(t *testing.T) {
	r := newPCMRing(4)
	err := r.Write(make([]byte, 5), time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrForwardTimeout)
	assert.Equal(t, 0, r.Buffered())
}

func TestPCMRing_CloseUnblocksWriter(t *testing.T) {
	r := newPCMRing(4)
	require.NoError(t, r.Write([]byte{1, 2, 3, 4}, time.Second))

	done := make(chan error, 1)
	go func() { done <- r.Write([]byte{5}, 5*time.Second) }()
	time.Sleep(10 * time.Millisecond)
	r.Close()
	r.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errRingClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock writer")
	}
}
