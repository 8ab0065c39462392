package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func benchConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Device.Stack = "none"
	cfg.Control.Driver = "log"
	cfg.Input.Driver = "virtual"
	cfg.Stream.Driver = "wav"
	cfg.Stream.Path = writeTestWAV(t, make([]int, 4410*2))
	cfg.Stream.FrameBytes = 1024
	cfg.Audio.Backend = "null"
	cfg.Audio.ForwardPolicy = string(ForwardDrop)
	cfg.Dispatch.DebounceMS = 0
	cfg.Dispatch.InitialLabel = 15
	cfg.IPC.SocketPath = shortSocketPath(t)
	cfg.HTTP.Enabled = false
	require.NoError(t, cfg.Validate())
	return cfg
}

// discardOutput accepts every write and counts the bytes.
type discardOutput struct {
	mu     sync.Mutex
	bytes  int
	closed bool
}

func (o *discardOutput) Enable() error { return nil }

func (o *discardOutput) Write(buf []byte, _ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bytes += len(buf)
	return nil
}

func (o *discardOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *discardOutput) Buffered() int     { return 0 }
func (o *discardOutput) Underruns() uint64 { return 0 }

func (o *discardOutput) written() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bytes
}

func TestRunDaemon_BenchStackEndToEnd(t *testing.T) {
	out := &discardOutput{}
	runBenchDaemon(t, func(Config, *slog.Logger) sinkOutput { return out })
	assert.Positive(t, out.written())
	assert.True(t, out.closed)
}

func TestRunDaemon_NullAudioBackend(t *testing.T) {
	output := newMalgoOutput(malgoOutputConfig{Backend: "null"}, nil)
	if err := output.Enable(); err != nil {
		t.Skipf("malgo null backend unavailable: %v", err)
	}
	require.NoError(t, output.Close())

	runBenchDaemon(t, newSinkOutput)
}

func runBenchDaemon(t *testing.T, newOutput func(Config, *slog.Logger) sinkOutput) {
	t.Helper()
	cfg := benchConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runDaemonWithOutput(ctx, cfg, nil, newOutput) }()

	status := func() StatusSnapshot {
		resp, err := SendIPCRequest(cfg.IPC.SocketPath, IPCRequest{Type: "status"}, time.Second)
		if err != nil {
			return StatusSnapshot{}
		}
		return *resp.Snapshot
	}
	waitUntil(t, 5*time.Second, func() bool {
		return status().DispatcherState == DispatcherArmed
	}, "daemon did not arm its input lines")

	resp, err := SendIPCRequest(cfg.IPC.SocketPath, IPCRequest{Type: "press", Line: "play"}, time.Second)
	require.NoError(t, err)
	assert.True(t, *resp.Accepted)

	waitUntil(t, 2*time.Second, func() bool { return status().Dispatched == 1 }, "command not dispatched")
	snap := status()
	assert.Equal(t, "play", snap.LastCommand)
	assert.Equal(t, uint8(0), snap.NextLabel, "label wrapped from 15")

	waitUntil(t, 5*time.Second, func() bool {
		s := status()
		return s.FramesForwarded > 0 && !s.StreamConnected
	}, "wav stream did not play through")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestRunDaemon_StartupFailureAborts(t *testing.T) {
	cfg := benchConfig(t)
	cfg.Stream.Path = "/nonexistent/bluesink.wav"

	err := runDaemonWithOutput(context.Background(), cfg, nil, func(Config, *slog.Logger) sinkOutput {
		return &discardOutput{}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init sink")
}
