package main

import (
	"log/slog"
	"sync"
	"time"
)

// StatusSnapshot is the externally visible state of the daemon. It is what
// IPC "status" returns and what a websocket client receives as state_init.
type StatusSnapshot struct {
	DispatcherState DispatcherState `json:"dispatcher_state"`
	NextLabel       uint8           `json:"next_label"`
	LastCommand     string          `json:"last_command,omitempty"`
	LastDispatchAt  *time.Time      `json:"last_dispatch_at,omitempty"`
	Dispatched      uint64          `json:"dispatched"`

	LastPairing *PairingSnapshot `json:"last_pairing,omitempty"`

	StreamConnected bool   `json:"stream_connected"`
	StreamPlaying   bool   `json:"stream_playing"`
	SampleRate      int    `json:"sample_rate,omitempty"`
	Channels        int    `json:"channels,omitempty"`
	FramesForwarded uint64 `json:"frames_forwarded"`
	BytesForwarded  uint64 `json:"bytes_forwarded"`
	ForwardFailures uint64 `json:"forward_failures"`
}

type PairingSnapshot struct {
	Address  string    `json:"address"`
	Number   uint32    `json:"number"`
	Accepted bool      `json:"accepted"`
	Decider  string    `json:"decider"`
	At       time.Time `json:"at"`
}

// ============================================================================
// Broadcasts
// ============================================================================

// StateBroadcast is a state change worth pushing to websocket clients.
type StateBroadcast interface {
	isStateBroadcast()
}

type BroadcastDispatcherState struct {
	State DispatcherState
	At    time.Time
}

type BroadcastCommandDispatched struct {
	Label   TransactionLabel
	Command LogicalCommand
	At      time.Time
}

type BroadcastPairingRequest struct {
	Pairing PairingSnapshot
}

type BroadcastStreamEvent struct {
	Kind       string
	Connected  *bool
	Playing    *bool
	SampleRate int
	Channels   int
	At         time.Time
}

type BroadcastAudioStats struct {
	Frames   uint64
	Bytes    uint64
	Failures uint64
	At       time.Time
}

func (BroadcastDispatcherState) isStateBroadcast()   {}
func (BroadcastCommandDispatched) isStateBroadcast() {}
func (BroadcastPairingRequest) isStateBroadcast()    {}
func (BroadcastStreamEvent) isStateBroadcast()       {}
func (BroadcastAudioStats) isStateBroadcast()        {}

// ============================================================================
// StatusBoard
// ============================================================================

// StatusBoard is an Observer that keeps the latest snapshot and queues
// broadcasts. It is the only state shared with the HTTP and IPC goroutines.
type StatusBoard struct {
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	snap StatusSnapshot

	broadcasts chan StateBroadcast
}

func NewStatusBoard(initialLabel TransactionLabel, bufSize int, logger *slog.Logger) *StatusBoard {
	if bufSize <= 0 {
		bufSize = 128
	}
	return &StatusBoard{
		logger: componentLogger(logger, "status"),
		now:    func() time.Time { return time.Now().UTC() },
		snap: StatusSnapshot{
			DispatcherState: DispatcherIdle,
			NextLabel:       uint8(initialLabel),
		},
		broadcasts: make(chan StateBroadcast, bufSize),
	}
}

func (b *StatusBoard) Snapshot() StatusSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.snap
	if s.LastPairing != nil {
		p := *s.LastPairing
		s.LastPairing = &p
	}
	if s.LastDispatchAt != nil {
		t := *s.LastDispatchAt
		s.LastDispatchAt = &t
	}
	return s
}

// Broadcasts is consumed by RunBroadcaster.
func (b *StatusBoard) Broadcasts() <-chan StateBroadcast { return b.broadcasts }

func (b *StatusBoard) publish(msg StateBroadcast) {
	select {
	case b.broadcasts <- msg:
	default:
		b.logger.Debug("broadcast queue full, dropping")
	}
}

func (b *StatusBoard) DispatcherStateChanged(state DispatcherState) {
	b.mu.Lock()
	changed := b.snap.DispatcherState != state
	b.snap.DispatcherState = state
	b.mu.Unlock()
	if changed {
		b.publish(BroadcastDispatcherState{State: state, At: b.now()})
	}
}

func (b *StatusBoard) CommandDispatched(label TransactionLabel, cmd LogicalCommand) {
	now := b.now()
	b.mu.Lock()
	b.snap.NextLabel = uint8(label.Next())
	b.snap.LastCommand = cmd.String()
	b.snap.LastDispatchAt = &now
	b.snap.Dispatched++
	b.mu.Unlock()
	b.publish(BroadcastCommandDispatched{Label: label, Command: cmd, At: now})
}

func (b *StatusBoard) PairingRequest(req ConfirmationRequest, accepted bool, decider string) {
	p := PairingSnapshot{
		Address:  req.Address.String(),
		Number:   req.Number,
		Accepted: accepted,
		Decider:  decider,
		At:       b.now(),
	}
	b.mu.Lock()
	b.snap.LastPairing = &p
	b.mu.Unlock()
	b.publish(BroadcastPairingRequest{Pairing: p})
}

func (b *StatusBoard) HandshakeObserved(HandshakeEvent) {}

func (b *StatusBoard) StreamEventObserved(ev StreamEvent) {
	out := BroadcastStreamEvent{Kind: ev.Kind(), At: b.now()}
	b.mu.Lock()
	switch e := ev.(type) {
	case ConnectionStateChanged:
		b.snap.StreamConnected = e.Connected
		if !e.Connected {
			b.snap.StreamPlaying = false
		}
		out.Connected = &e.Connected
	case AudioStateChanged:
		b.snap.StreamPlaying = e.Playing
		out.Playing = &e.Playing
	case AudioConfigured:
		b.snap.SampleRate = e.SampleRate
		b.snap.Channels = e.Channels
		out.SampleRate = e.SampleRate
		out.Channels = e.Channels
	}
	b.mu.Unlock()
	b.publish(out)
}

func (b *StatusBoard) FrameForwarded(n int, _ time.Duration) {
	b.mu.Lock()
	b.snap.FramesForwarded++
	b.snap.BytesForwarded += uint64(n)
	stats := b.statsLocked()
	b.mu.Unlock()
	b.publish(stats)
}

func (b *StatusBoard) ForwardFailed(error) {
	b.mu.Lock()
	b.snap.ForwardFailures++
	stats := b.statsLocked()
	b.mu.Unlock()
	b.publish(stats)
}

func (b *StatusBoard) statsLocked() BroadcastAudioStats {
	return BroadcastAudioStats{
		Frames:   b.snap.FramesForwarded,
		Bytes:    b.snap.BytesForwarded,
		Failures: b.snap.ForwardFailures,
		At:       b.now(),
	}
}
