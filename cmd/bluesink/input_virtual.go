package main

import "sync"

// virtualLine is a software-only InputLine. It backs IPC-driven setups with no
// buttons attached, and tests.
type virtualLine struct {
	name string
	gate edgeGate

	mu   sync.Mutex
	pull Pull
	edge Edge
}

func newVirtualLine(name string) *virtualLine {
	return &virtualLine{name: name}
}

func (l *virtualLine) Name() string { return l.name }

func (l *virtualLine) SetPull(p Pull) error {
	l.mu.Lock()
	l.pull = p
	l.mu.Unlock()
	return nil
}

func (l *virtualLine) SetEdge(e Edge) error {
	l.mu.Lock()
	l.edge = e
	l.mu.Unlock()
	return nil
}

func (l *virtualLine) Subscribe(handler func()) error { return l.gate.subscribe(handler) }

func (l *virtualLine) EnableInterrupt() error {
	l.gate.enable()
	return nil
}

func (l *virtualLine) DisableInterrupt() error {
	l.gate.disable()
	return nil
}

// Simulate delivers one edge.
func (l *virtualLine) Simulate() bool { return l.gate.fire() }

func (l *virtualLine) Armed() bool { return l.gate.isArmed() }

func (l *virtualLine) config() (Pull, Edge) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pull, l.edge
}
