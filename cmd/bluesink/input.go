package main

import (
	"errors"
	"fmt"
	"sync"
)

// ============================================================================
// Input Capture
// ============================================================================
// Four physical lines (buttons) each map to a fixed LogicalCommand. A rising
// edge on a line writes that command into the shared mailbox and posts the
// wake signal; the dispatcher does the rest.
//
// The edge path is one mutex-protected write and one non-blocking post.
// Logging and metrics happen in the dispatcher.
// ============================================================================

// Pull selects the internal resistor of an input line.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// Edge selects which transition raises the interrupt.
type Edge uint8

const (
	EdgeRising Edge = iota
	EdgeFalling
)

func (e Edge) String() string {
	if e == EdgeFalling {
		return "falling"
	}
	return "rising"
}

// InputLine is one edge-triggered digital input.
//
// A line that fires disarms itself until EnableInterrupt is called again.
// DisableInterrupt must not return while the line's handler is running.
type InputLine interface {
	Name() string
	SetPull(Pull) error
	SetEdge(Edge) error
	Subscribe(handler func()) error
	EnableInterrupt() error
	DisableInterrupt() error
}

// Simulator is implemented by lines that can inject an edge in software
// (IPC "press" requests, tests). The edge goes through the same arm gate as a
// hardware edge.
type Simulator interface {
	Simulate() bool
}

var ErrUnknownLine = errors.New("unknown input line")

// edgeGate is the arm/disarm logic shared by every InputLine implementation.
type edgeGate struct {
	mu      sync.Mutex
	armed   bool
	handler func()
}

func (g *edgeGate) subscribe(handler func()) error {
	if handler == nil {
		return errors.New("nil edge handler")
	}
	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
	return nil
}

func (g *edgeGate) enable() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

// disable waits for a running handler because fire holds mu while it runs.
func (g *edgeGate) disable() {
	g.mu.Lock()
	g.armed = false
	g.mu.Unlock()
}

// fire delivers one edge. It reports false when the edge was dropped.
func (g *edgeGate) fire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed || g.handler == nil {
		return false
	}
	g.armed = false
	g.handler()
	return true
}

func (g *edgeGate) isArmed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// LineBinding attaches a line to the command it produces.
type LineBinding struct {
	Line    InputLine
	Command LogicalCommand
}

// InputCapture owns the configured lines and the edge handlers that feed the
// mailbox.
type InputCapture struct {
	mailbox  *ActionMailbox
	wake     *WakeSignal
	bindings []LineBinding
	byName   map[string]LineBinding
}

func NewInputCapture(mailbox *ActionMailbox, wake *WakeSignal, bindings []LineBinding) (*InputCapture, error) {
	if mailbox == nil || wake == nil {
		return nil, errors.New("input capture needs a mailbox and a wake signal")
	}
	if len(bindings) == 0 {
		return nil, errors.New("input capture needs at least one line")
	}
	byName := make(map[string]LineBinding, len(bindings))
	for i, b := range bindings {
		if b.Line == nil {
			return nil, fmt.Errorf("binding %d: nil line", i)
		}
		if !b.Command.Valid() {
			return nil, fmt.Errorf("binding %d (%s): invalid command %d", i, b.Line.Name(), uint8(b.Command))
		}
		if _, dup := byName[b.Line.Name()]; dup {
			return nil, fmt.Errorf("binding %d: duplicate line name %q", i, b.Line.Name())
		}
		byName[b.Line.Name()] = b
	}
	return &InputCapture{
		mailbox:  mailbox,
		wake:     wake,
		bindings: bindings,
		byName:   byName,
	}, nil
}

// Configure sets every line to pull-down, rising edge and subscribes its
// handler. Lines stay disarmed until the dispatcher enables them.
func (c *InputCapture) Configure() error {
	for _, b := range c.bindings {
		name := b.Line.Name()
		if err := b.Line.SetPull(PullDown); err != nil {
			return fmt.Errorf("line %s: set pull: %w", name, err)
		}
		if err := b.Line.SetEdge(EdgeRising); err != nil {
			return fmt.Errorf("line %s: set edge: %w", name, err)
		}
		if err := b.Line.Subscribe(c.handler(b.Command)); err != nil {
			return fmt.Errorf("line %s: subscribe: %w", name, err)
		}
	}
	return nil
}

func (c *InputCapture) handler(cmd LogicalCommand) func() {
	return func() {
		c.mailbox.Put(cmd)
		c.wake.Post()
	}
}

// EnableAll arms every line.
func (c *InputCapture) EnableAll() error {
	for _, b := range c.bindings {
		if err := b.Line.EnableInterrupt(); err != nil {
			return fmt.Errorf("line %s: enable interrupt: %w", b.Line.Name(), err)
		}
	}
	return nil
}

// DisableAll disarms every line. When it returns no handler is running.
func (c *InputCapture) DisableAll() error {
	var errs []error
	for _, b := range c.bindings {
		if err := b.Line.DisableInterrupt(); err != nil {
			errs = append(errs, fmt.Errorf("line %s: disable interrupt: %w", b.Line.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the binding for a line name.
func (c *InputCapture) Lookup(name string) (LineBinding, bool) {
	b, ok := c.byName[name]
	return b, ok
}

// Bindings returns the configured bindings in order.
func (c *InputCapture) Bindings() []LineBinding {
	out := make([]LineBinding, len(c.bindings))
	copy(out, c.bindings)
	return out
}

// Press injects a software edge on the named line. It reports whether the
// edge was accepted (line armed) or dropped.
func (c *InputCapture) Press(name string) (bool, error) {
	b, ok := c.byName[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownLine, name)
	}
	sim, ok := b.Line.(Simulator)
	if !ok {
		return false, fmt.Errorf("line %s does not support simulated edges", name)
	}
	return sim.Simulate(), nil
}
