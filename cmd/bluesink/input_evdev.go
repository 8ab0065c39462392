package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

func decodeInputEvent(buf []byte) (inputEvent, error) {
	var ev inputEvent
	if len(buf) < inputEventSize {
		return ev, fmt.Errorf("short input event: %d bytes", len(buf))
	}
	err := binary.Read(bytes.NewReader(buf[:inputEventSize]), binary.LittleEndian, &ev)
	return ev, err
}

var keyCodeNames = map[string]uint16{
	"KEY_NEXTSONG":     KEY_NEXTSONG,
	"KEY_PLAYPAUSE":    KEY_PLAYPAUSE,
	"KEY_PREVIOUSSONG": KEY_PREVIOUSSONG,
	"KEY_PLAYCD":       KEY_PLAYCD,
	"KEY_PAUSECD":      KEY_PAUSECD,
}

// parseKeyCode accepts a symbolic KEY_* name or a decimal code.
func parseKeyCode(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if code, ok := keyCodeNames[strings.ToUpper(s)]; ok {
		return code, nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid key code %q", s)
	}
	return uint16(n), nil
}

// evdevLine is one key code on an evdev device (gpio-keys exposes each GPIO
// button this way). Pull resistors are owned by the device tree, so SetPull
// only records the request.
type evdevLine struct {
	name   string
	device string
	code   uint16
	gate   edgeGate

	mu   sync.Mutex
	pull Pull
	edge Edge
}

func (l *evdevLine) Name() string { return l.name }

func (l *evdevLine) SetPull(p Pull) error {
	l.mu.Lock()
	l.pull = p
	l.mu.Unlock()
	return nil
}

func (l *evdevLine) SetEdge(e Edge) error {
	if e != EdgeRising && e != EdgeFalling {
		return fmt.Errorf("unsupported edge %d", e)
	}
	l.mu.Lock()
	l.edge = e
	l.mu.Unlock()
	return nil
}

func (l *evdevLine) Subscribe(handler func()) error { return l.gate.subscribe(handler) }

func (l *evdevLine) EnableInterrupt() error {
	l.gate.enable()
	return nil
}

func (l *evdevLine) DisableInterrupt() error {
	l.gate.disable()
	return nil
}

func (l *evdevLine) Simulate() bool { return l.gate.fire() }

// matches reports whether a key value is the configured transition.
// Autorepeat never counts as an edge.
func (l *evdevLine) matches(value int32) bool {
	l.mu.Lock()
	edge := l.edge
	l.mu.Unlock()
	switch value {
	case evValuePress:
		return edge == EdgeRising
	case evValueRelease:
		return edge == EdgeFalling
	default:
		return false
	}
}

type evdevKey struct {
	device string
	code   uint16
}
