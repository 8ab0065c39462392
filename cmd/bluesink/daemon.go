package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Daemon wiring
// ============================================================================
// Startup order:
//   1. input lines (pull-down, rising edge, handlers)
//   2. discovery: name, IO capability, handshake subscription
//   3. control channel
//   4. streaming profile sink init
//   5. audio output enable
//   6. bridge subscribes to the stream
//   7. discoverability
//
// Any startup failure aborts. After that every subsystem runs in one errgroup;
// the first error cancels the rest and is returned (the process exits 1).
// There is no restart inside the process.
// ============================================================================

// sinkOutput is the audio output the daemon wires behind the bridge. It also
// feeds the ring fill and underrun gauges.
type sinkOutput interface {
	AudioOutput
	Buffered() int
	Underruns() uint64
}

func newSinkOutput(cfg Config, logger *slog.Logger) sinkOutput {
	return newMalgoOutput(malgoOutputConfig{
		Backend:    cfg.Audio.Backend,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		RingBytes:  cfg.Audio.RingBytes,
	}, logger)
}

func runDaemon(ctx context.Context, cfg Config, logger *slog.Logger) error {
	return runDaemonWithOutput(ctx, cfg, logger, newSinkOutput)
}

func runDaemonWithOutput(ctx context.Context, cfg Config, logger *slog.Logger, newOutput func(Config, *slog.Logger) sinkOutput) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	board := NewStatusBoard(TransactionLabel(cfg.Dispatch.InitialLabel), 0, logger)
	metrics, err := NewSinkMetrics(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	observer := newMultiObserver(board, metrics)

	// 1. Input capture
	mailbox := &ActionMailbox{}
	wake := NewWakeSignal()

	bindings, reader, err := buildInputLines(cfg.Input, logger)
	if err != nil {
		return err
	}
	if reader != nil {
		defer reader.Close()
		_ = metrics.RegisterGaugeFunc("bluesink_input_edges_ignored", "Edges dropped because their line was disarmed", func() float64 {
			return float64(reader.Ignored())
		})
	}
	capture, err := NewInputCapture(mailbox, wake, bindings)
	if err != nil {
		return fmt.Errorf("input capture: %w", err)
	}
	if err := capture.Configure(); err != nil {
		return fmt.Errorf("configure input: %w", err)
	}

	// 2. Discovery + pairing
	var (
		bz        *bluezConn
		agent     *bluezDiscovery
		discovery DiscoveryLayer
		injector  HandshakeInjector
	)
	if cfg.Device.Stack == "bluez" {
		bz, err = dialBluez(cfg.Device.Adapter)
		if err != nil {
			return err
		}
		defer bz.close()
		agent = newBluezDiscovery(bz, logger)
		defer agent.Close()
		discovery = agent
	} else {
		bench := newLogDiscovery(logger)
		discovery = bench
		injector = bench
	}

	policy := NewPairingPolicy(cfg.ToPairingPolicyConfig(), observer, logger)
	if err := policy.Configure(discovery); err != nil {
		return fmt.Errorf("configure pairing: %w", err)
	}

	// 3. Control channel
	var control ControlChannel
	if cfg.Control.Driver == "bluez" {
		control = newBluezControl(bz, cfg.Control.NoPlayer == "ignore", logger)
	} else {
		control = newLogControl(logger)
	}

	// 4. Streaming profile
	source := buildStreamSource(cfg, logger)
	if err := source.InitSink(); err != nil {
		return fmt.Errorf("init sink: %w", err)
	}

	// 5. Audio output
	output := newOutput(cfg, logger)
	if err := output.Enable(); err != nil {
		return fmt.Errorf("enable audio output: %w", err)
	}
	defer func() { _ = output.Close() }()
	_ = metrics.RegisterGaugeFunc("bluesink_audio_ring_buffered_bytes", "PCM bytes waiting for the playback device", func() float64 {
		return float64(output.Buffered())
	})
	_ = metrics.RegisterGaugeFunc("bluesink_audio_underruns", "Playback callbacks padded with silence", func() float64 {
		return float64(output.Underruns())
	})

	// 6. Bridge
	bridge := NewAudioBridge(output, cfg.ToAudioBridgeConfig(), observer, logger)
	if err := source.SubscribeStream(bridge); err != nil {
		return fmt.Errorf("subscribe stream: %w", err)
	}

	// 7. Discoverability
	if err := policy.Advertise(); err != nil {
		return fmt.Errorf("advertise: %w", err)
	}

	dispatcher := NewDispatcher(capture, mailbox, wake, control, cfg.ToDispatcherConfig(), observer, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		// Unblocks a stream callback waiting on a full ring.
		<-gctx.Done()
		if err := output.Close(); err != nil {
			logger.Warn("close audio output", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := source.Run(gctx); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		return nil
	})
	if reader != nil {
		g.Go(func() error { return reader.Run(gctx) })
	}
	if agent != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err := <-agent.Fatal():
				return fmt.Errorf("pairing: %w", err)
			}
		})
	}
	if bz != nil {
		watcher := newBluezWatcher(bz, bridge, policy, logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error { return runIPCServer(gctx, cfg.IPC.SocketPath, capture, board, injector, logger) })

	if cfg.HTTP.Enabled {
		ws := NewServer(logger, board, ServerConfig{})
		g.Go(func() error { return ws.Hub().Run(gctx) })
		g.Go(func() error { return RunBroadcaster(gctx, ws.Hub(), board.Broadcasts(), logger) })
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Listen, newHTTPMux(ws, board, metrics), componentLogger(logger, "http"))
		})
	}

	logger.Info("bluesink running", "name", cfg.Device.Name, "stack", cfg.Device.Stack, "lines", len(bindings))
	err = g.Wait()
	if err != nil {
		logger.Error("daemon stopped", "error", err)
		return err
	}
	logger.Info("daemon stopped")
	return nil
}

func buildInputLines(cfg InputConfig, logger *slog.Logger) ([]LineBinding, *evdevReader, error) {
	var reader *evdevReader
	if cfg.Driver == "evdev" {
		reader = newEvdevReader(logger)
	}
	bindings, err := bindInputLines(cfg, reader)
	if err != nil {
		return nil, nil, err
	}
	return bindings, reader, nil
}

// bindInputLines builds one binding per configured line. Lines are evdev keys
// when reader is set, virtual lines otherwise. On error the reader is closed.
func bindInputLines(cfg InputConfig, reader *evdevReader) (_ []LineBinding, err error) {
	if reader != nil {
		defer func() {
			if err != nil {
				_ = reader.Close()
			}
		}()
	}

	bindings := make([]LineBinding, 0, len(cfg.Lines))
	for _, lc := range cfg.Lines {
		cmd, err := ParseLogicalCommand(lc.Command)
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", lc.Name, err)
		}
		var line InputLine
		if reader != nil {
			code, err := parseKeyCode(lc.Key)
			if err != nil {
				return nil, fmt.Errorf("line %s: %w", lc.Name, err)
			}
			l, err := reader.Line(lc.Name, lc.Device, code)
			if err != nil {
				return nil, fmt.Errorf("line %s: %w", lc.Name, err)
			}
			line = l
		} else {
			line = newVirtualLine(lc.Name)
		}
		bindings = append(bindings, LineBinding{Line: line, Command: cmd})
	}
	return bindings, nil
}

func buildStreamSource(cfg Config, logger *slog.Logger) StreamingProfile {
	if cfg.Stream.Driver == "wav" {
		return newWAVSource(cfg.Stream.Path, cfg.Stream.FrameBytes, cfg.Stream.Loop, logger)
	}
	return newPipeSource(cfg.Stream.Path, cfg.Stream.FrameBytes, cfg.Audio.SampleRate, cfg.Audio.Channels, logger)
}
