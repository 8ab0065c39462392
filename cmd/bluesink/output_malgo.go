package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

type malgoOutputConfig struct {
	Backend    string
	SampleRate int
	Channels   int
	RingBytes  int
}

// malgoOutput plays S16LE PCM on the sound card. The bridge writes into a
// ring buffer and the device callback drains it.
type malgoOutput struct {
	cfg    malgoOutputConfig
	ring   *pcmRing
	logger *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	enabled bool

	underruns atomic.Uint64
}

func newMalgoOutput(cfg malgoOutputConfig, logger *slog.Logger) *malgoOutput {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.RingBytes <= 0 {
		cfg.RingBytes = defaultRingBytes
	}
	return &malgoOutput{
		cfg:    cfg,
		ring:   newPCMRing(cfg.RingBytes),
		logger: componentLogger(logger, "output"),
	}
}

func parseMalgoBackend(name string) ([]malgo.Backend, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return nil, nil
	case "alsa":
		return []malgo.Backend{malgo.BackendAlsa}, nil
	case "pulseaudio", "pulse":
		return []malgo.Backend{malgo.BackendPulseaudio}, nil
	case "null":
		return []malgo.Backend{malgo.BackendNull}, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q (must be auto, alsa, pulseaudio, or null)", name)
	}
}

// Enable opens and starts the playback device.
func (o *malgoOutput) Enable() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enabled {
		return nil
	}

	backends, err := parseMalgoBackend(o.cfg.Backend)
	if err != nil {
		return err
	}

	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		o.logger.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(o.cfg.Channels)
	deviceConfig.SampleRate = uint32(o.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			if n := o.ring.Fill(pOutput); n < len(pOutput) {
				o.underruns.Add(1)
			}
		},
		Stop: func() {
			o.logger.Warn("playback device stopped")
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start playback device: %w", err)
	}

	o.ctx = ctx
	o.device = device
	o.enabled = true
	o.logger.Info("playback started", "backend", o.cfg.Backend, "sample_rate", o.cfg.SampleRate, "channels", o.cfg.Channels, "ring_bytes", o.ring.Capacity())
	return nil
}

func (o *malgoOutput) Write(buf []byte, timeout time.Duration) error {
	return o.ring.Write(buf, timeout)
}

// Underruns counts device callbacks that had to pad with silence.
func (o *malgoOutput) Underruns() uint64 { return o.underruns.Load() }

func (o *malgoOutput) Buffered() int { return o.ring.Buffered() }

func (o *malgoOutput) Close() error {
	o.ring.Close()

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.enabled {
		return nil
	}
	o.enabled = false

	var errs []error
	if err := o.device.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playback device: %w", err))
	}
	o.device.Uninit()
	if err := o.ctx.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("uninit audio context: %w", err))
	}
	o.ctx.Free()
	return errors.Join(errs...)
}
