package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// pipeSource reads decoded S16LE PCM from a FIFO, a regular file or stdin
// ("-") and delivers it as SinkData events. On a real board the FIFO is fed by
// the A2DP decoder (e.g. bluealsa-aplay writing to a pipe).
type pipeSource struct {
	path       string
	frameBytes int
	sampleRate int
	channels   int
	logger     *slog.Logger

	handler StreamHandler
}

func newPipeSource(path string, frameBytes, sampleRate, channels int, logger *slog.Logger) *pipeSource {
	if frameBytes <= 0 {
		frameBytes = defaultFrameBytes
	}
	return &pipeSource{
		path:       path,
		frameBytes: frameBytes,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     componentLogger(logger, "stream"),
	}
}

func (p *pipeSource) InitSink() error {
	if p.path == "" {
		return errors.New("stream path is empty")
	}
	if p.path == "-" {
		return nil
	}
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("stream source %s: %w", p.path, err)
	}
	return nil
}

func (p *pipeSource) SubscribeStream(h StreamHandler) error {
	if h == nil {
		return errors.New("nil stream handler")
	}
	p.handler = h
	return nil
}

func (p *pipeSource) open() (*os.File, error) {
	if p.path == "-" {
		return os.Stdin, nil
	}
	st, err := os.Stat(p.path)
	if err != nil {
		return nil, err
	}
	// A FIFO opened read-write never blocks in open and never reports EOF
	// when the writer goes away, so the decoder can restart freely.
	flag := os.O_RDONLY
	if st.Mode()&os.ModeNamedPipe != 0 {
		flag = os.O_RDWR
	}
	return os.OpenFile(p.path, flag, 0)
}

// Run delivers frames until EOF, a handler error or ctx cancellation.
func (p *pipeSource) Run(ctx context.Context) error {
	if p.handler == nil {
		return errors.New("stream source has no subscriber")
	}
	f, err := p.open()
	if err != nil {
		return fmt.Errorf("open stream source: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer func() {
		if stop() {
			_ = f.Close()
		}
	}()

	p.logger.Info("stream source opened", "path", p.path, "frame_bytes", p.frameBytes)
	if err := emit(p.handler, ConnectionStateChanged{Connected: true}); err != nil {
		return err
	}
	if err := emit(p.handler, AudioConfigured{SampleRate: p.sampleRate, Channels: p.channels}); err != nil {
		return err
	}

	err = pumpFrames(f, p.frameBytes, p.handler)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Info("stream source ended", "path", p.path)
	return emit(p.handler, ConnectionStateChanged{Connected: false})
}

// pumpFrames reads fixed-size frames from r until EOF. The same buffer is
// reused for every frame.
func pumpFrames(r io.Reader, frameBytes int, h StreamHandler) error {
	buf := make([]byte, frameBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if hErr := emit(h, SinkData{Data: buf[:n]}); hErr != nil {
				return hErr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

func emit(h StreamHandler, ev StreamEvent) error {
	if _, err := h.HandleStreamEvent(ev); err != nil {
		return fmt.Errorf("stream handler (%s): %w", ev.Kind(), err)
	}
	return nil
}
