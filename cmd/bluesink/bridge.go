package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// AudioOutput is the playback path for decoded PCM.
type AudioOutput interface {
	Enable() error
	Write(buf []byte, timeout time.Duration) error
	Close() error
}

var ErrForwardTimeout = errors.New("audio output write timed out")

// ForwardPolicy decides what a failed forward does to the stream.
type ForwardPolicy string

const (
	// ForwardFatal returns the error, which ends the stream loop and the daemon.
	ForwardFatal ForwardPolicy = "fatal"
	// ForwardDrop logs and counts the failure and keeps streaming.
	ForwardDrop ForwardPolicy = "drop"
)

func ParseForwardPolicy(s string) (ForwardPolicy, error) {
	switch ForwardPolicy(s) {
	case ForwardFatal, ForwardDrop:
		return ForwardPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid forward policy %q (must be %q or %q)", s, ForwardFatal, ForwardDrop)
	}
}

type AudioBridgeConfig struct {
	Timeout time.Duration
	Policy  ForwardPolicy
}

// AudioBridge forwards sink data to the audio output unchanged.
type AudioBridge struct {
	out      AudioOutput
	timeout  time.Duration
	policy   ForwardPolicy
	observer Observer
	logger   *slog.Logger
}

func NewAudioBridge(out AudioOutput, cfg AudioBridgeConfig, observer Observer, logger *slog.Logger) *AudioBridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultForwardTimeout
	}
	if cfg.Policy == "" {
		cfg.Policy = ForwardFatal
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &AudioBridge{
		out:      out,
		timeout:  cfg.Timeout,
		policy:   cfg.Policy,
		observer: observer,
		logger:   componentLogger(logger, "bridge"),
	}
}

// HandleStreamEvent always acks 0. Under ForwardFatal a failed write is
// returned as the error.
func (b *AudioBridge) HandleStreamEvent(ev StreamEvent) (int, error) {
	switch e := ev.(type) {
	case SinkData:
		return streamAck, b.forward(e.Data)
	case ConnectionStateChanged:
		b.logger.Info("stream connection changed", "address", e.Address.String(), "connected", e.Connected)
	case AudioStateChanged:
		b.logger.Info("stream audio state changed", "playing", e.Playing)
	case AudioConfigured:
		b.logger.Info("stream audio configured", "sample_rate", e.SampleRate, "channels", e.Channels)
	default:
		b.logger.Debug("stream event", "kind", ev.Kind())
	}
	b.observer.StreamEventObserved(ev)
	return streamAck, nil
}

func (b *AudioBridge) forward(data []byte) error {
	start := time.Now()
	err := b.out.Write(data, b.timeout)
	if err == nil {
		b.observer.FrameForwarded(len(data), time.Since(start))
		return nil
	}

	b.observer.ForwardFailed(err)
	if b.policy == ForwardDrop {
		b.logger.Warn("audio forward failed, frame dropped", "bytes", len(data), "error", err)
		return nil
	}
	return fmt.Errorf("forward %d bytes: %w", len(data), err)
}
