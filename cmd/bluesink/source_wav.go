package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavSource plays a 16-bit WAV file through the sink path. It is the bench
// replacement for a phone: the output ring applies backpressure, so frames
// leave at playback speed.
type wavSource struct {
	path       string
	frameBytes int
	loop       bool
	logger     *slog.Logger

	handler StreamHandler
}

func newWAVSource(path string, frameBytes int, loop bool, logger *slog.Logger) *wavSource {
	if frameBytes <= 0 {
		frameBytes = defaultFrameBytes
	}
	return &wavSource{
		path:       path,
		frameBytes: frameBytes,
		loop:       loop,
		logger:     componentLogger(logger, "stream"),
	}
}

func (s *wavSource) InitSink() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("invalid wav file: %s", s.path)
	}
	if dec.BitDepth != 16 {
		return fmt.Errorf("wav %s: unsupported bit depth %d (need 16)", s.path, dec.BitDepth)
	}
	return nil
}

func (s *wavSource) SubscribeStream(h StreamHandler) error {
	if h == nil {
		return errors.New("nil stream handler")
	}
	s.handler = h
	return nil
}

func (s *wavSource) Run(ctx context.Context) error {
	if s.handler == nil {
		return errors.New("stream source has no subscriber")
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("read wav header: %w", err)
	}

	s.logger.Info("wav playback", "path", s.path, "sample_rate", dec.SampleRate, "channels", dec.NumChans, "loop", s.loop)
	if err := emit(s.handler, ConnectionStateChanged{Connected: true}); err != nil {
		return err
	}
	if err := emit(s.handler, AudioConfigured{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}); err != nil {
		return err
	}
	if err := emit(s.handler, AudioStateChanged{Playing: true}); err != nil {
		return err
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, s.frameBytes/bytesPerSample),
		Format: dec.Format(),
	}
	out := make([]byte, s.frameBytes)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			if !s.loop {
				break
			}
			if err := dec.Rewind(); err != nil {
				return fmt.Errorf("rewind wav: %w", err)
			}
			continue
		}

		pcm := encodeS16LE(out, buf.Data[:n])
		if err := emit(s.handler, SinkData{Data: pcm}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	if err := emit(s.handler, AudioStateChanged{Playing: false}); err != nil {
		return err
	}
	return emit(s.handler, ConnectionStateChanged{Connected: false})
}

// encodeS16LE writes samples into dst (grown if needed) and returns the
// filled prefix.
func encodeS16LE(dst []byte, samples []int) []byte {
	need := len(samples) * bytesPerSample
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i, v := range samples {
		binary.LittleEndian.PutUint16(dst[i*bytesPerSample:], uint16(int16(v)))
	}
	return dst
}
