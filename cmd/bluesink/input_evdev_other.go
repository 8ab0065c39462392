//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
)

var errEvdevUnsupported = errors.New("evdev input is only available on linux")

type evdevReader struct{}

func newEvdevReader(*slog.Logger) *evdevReader { return &evdevReader{} }

func (r *evdevReader) Line(name, device string, code uint16) (*evdevLine, error) {
	return nil, errEvdevUnsupported
}

func (r *evdevReader) Run(context.Context) error { return errEvdevUnsupported }

func (r *evdevReader) Ignored() uint64 { return 0 }

func (r *evdevReader) Close() error { return nil }
