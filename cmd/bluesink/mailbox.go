package main

import (
	"context"
	"sync"
)

// ActionMailbox is a single-slot holder for the most recent command.
//
// It is written from the input handlers and drained by the dispatcher.
// There is no queueing: a new Put overwrites any command that was not taken yet.
type ActionMailbox struct {
	mu      sync.Mutex
	cmd     LogicalCommand
	pending bool
}

// Put stores cmd, replacing any unconsumed command.
// It reports whether a pending command was overwritten.
func (m *ActionMailbox) Put(cmd LogicalCommand) (overwrote bool) {
	m.mu.Lock()
	overwrote = m.pending
	m.cmd = cmd
	m.pending = true
	m.mu.Unlock()
	return overwrote
}

// Take returns the pending command (if any) and clears the slot.
func (m *ActionMailbox) Take() (LogicalCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.cmd, m.pending
	m.cmd = 0
	m.pending = false
	return cmd, ok
}

// Peek returns the pending command without clearing it.
func (m *ActionMailbox) Peek() (LogicalCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd, m.pending
}

// WakeSignal is a payload-free notification with a single consumer.
// Posts never block and collapse into one pending wake.
type WakeSignal struct {
	ch chan struct{}
}

func NewWakeSignal() *WakeSignal {
	return &WakeSignal{ch: make(chan struct{}, 1)}
}

// Post records that something happened. Safe from any goroutine.
func (w *WakeSignal) Post() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until a post is pending or ctx is done.
func (w *WakeSignal) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

// Drain discards a pending post, if any.
func (w *WakeSignal) Drain() {
	select {
	case <-w.ch:
	default:
	}
}
