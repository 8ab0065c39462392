package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type sentPassthrough struct {
	label   TransactionLabel
	cmd     LogicalCommand
	pressed bool
}

// fakeControl records passthrough sends.
type fakeControl struct {
	mu    sync.Mutex
	sends []sentPassthrough
	sent  chan sentPassthrough
	err   error
}

func newFakeControl() *fakeControl {
	return &fakeControl{sent: make(chan sentPassthrough, 16)}
}

func (f *fakeControl) SendPassthrough(ctx context.Context, label TransactionLabel, cmd LogicalCommand, pressed bool) error {
	f.mu.Lock()
	err := f.err
	if err == nil {
		f.sends = append(f.sends, sentPassthrough{label, cmd, pressed})
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- sentPassthrough{label, cmd, pressed}
	return nil
}

func (f *fakeControl) all() []sentPassthrough {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPassthrough, len(f.sends))
	copy(out, f.sends)
	return out
}

func (f *fakeControl) waitSend(t *testing.T) sentPassthrough {
	t.Helper()
	select {
	case s := <-f.sent:
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for passthrough send")
		return sentPassthrough{}
	}
}

type dispatcherHarness struct {
	capture    *InputCapture
	lines      map[LogicalCommand]*virtualLine
	mailbox    *ActionMailbox
	wake       *WakeSignal
	control    *fakeControl
	board      *StatusBoard
	dispatcher *Dispatcher
}

func newDispatcherHarness(t *testing.T, cfg DispatcherConfig) *dispatcherHarness {
	t.Helper()
	capture, lines, mailbox, wake := newTestCapture(t)
	control := newFakeControl()
	board := NewStatusBoard(cfg.InitialLabel, 64, nil)
	d := NewDispatcher(capture, mailbox, wake, control, cfg, board, nil)
	return &dispatcherHarness{
		capture:    capture,
		lines:      lines,
		mailbox:    mailbox,
		wake:       wake,
		control:    control,
		board:      board,
		dispatcher: d,
	}
}

// start runs the dispatcher and returns a stop func yielding Run's error.
func (h *dispatcherHarness) start(t *testing.T) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.dispatcher.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(time.Second):
			t.Fatal("dispatcher did not stop")
			return nil
		}
	}
}

func (h *dispatcherHarness) waitArmed(t *testing.T, c LogicalCommand) {
	t.Helper()
	waitUntil(t, time.Second, h.lines[c].Armed, c.String()+" line not re-armed")
}

func TestDispatcher_SendsPendingCommandAndAdvancesLabel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newDispatcherHarness(t, DispatcherConfig{InitialLabel: 3})
	stop := h.start(t)

	h.waitArmed(t, CommandForward)
	require.True(t, h.lines[CommandForward].Simulate())

	got := h.control.waitSend(t)
	assert.Equal(t, sentPassthrough{label: 3, cmd: CommandForward, pressed: true}, got)

	h.waitArmed(t, CommandForward)
	require.True(t, h.lines[CommandForward].Simulate())
	got = h.control.waitSend(t)
	assert.Equal(t, TransactionLabel(4), got.label)

	require.NoError(t, stop())
	assert.Equal(t, TransactionLabel(5), h.dispatcher.Label())
}

// Several edges before the dispatcher wakes collapse into one send carrying
// the last command.
func TestDispatcher_RapidEdgesCollapseToOneSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newDispatcherHarness(t, DispatcherConfig{InitialLabel: 9})

	require.NoError(t, h.capture.EnableAll())
	for _, c := range AllCommands {
		require.True(t, h.lines[c].Simulate())
	}

	stop := h.start(t)
	got := h.control.waitSend(t)
	assert.Equal(t, CommandPlay, got.cmd)
	assert.Equal(t, TransactionLabel(9), got.label)

	// Give a second cycle a chance to run; it must find nothing to send.
	h.waitArmed(t, CommandPlay)
	require.NoError(t, stop())

	assert.Len(t, h.control.all(), 1)
	assert.Equal(t, TransactionLabel(10), h.dispatcher.Label())
}

func TestDispatcher_LabelWrapsAfterFifteen(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newDispatcherHarness(t, DispatcherConfig{InitialLabel: 15})
	stop := h.start(t)

	h.waitArmed(t, CommandPause)
	h.lines[CommandPause].Simulate()
	assert.Equal(t, TransactionLabel(15), h.control.waitSend(t).label)

	h.waitArmed(t, CommandPause)
	h.lines[CommandPause].Simulate()
	assert.Equal(t, TransactionLabel(0), h.control.waitSend(t).label)

	require.NoError(t, stop())
}

func TestDispatcher_InitialLabelIsReducedModulo16(t *testing.T) {
	d := NewDispatcher(nil, &ActionMailbox{}, NewWakeSignal(), newFakeControl(), DispatcherConfig{InitialLabel: 18}, nil, nil)
	assert.Equal(t, TransactionLabel(2), d.Label())
}

func TestDispatcher_EmptyWakeDoesNotAdvanceLabel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newDispatcherHarness(t, DispatcherConfig{InitialLabel: 6})
	stop := h.start(t)

	h.waitArmed(t, CommandPlay)
	h.wake.Post()
	// The cycle disarms then re-arms the lines.
	waitUntil(t, time.Second, func() bool {
		return h.board.Snapshot().DispatcherState == DispatcherArmed && h.lines[CommandPlay].Armed()
	}, "dispatcher did not complete the empty cycle")

	require.NoError(t, stop())
	assert.Empty(t, h.control.all())
	assert.Equal(t, TransactionLabel(6), h.dispatcher.Label())
}

func TestDispatcher_SendFailureIsFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newDispatcherHarness(t, DispatcherConfig{})
	boom := errors.New("avrcp channel closed")
	h.control.err = boom

	require.NoError(t, h.capture.EnableAll())
	require.True(t, h.lines[CommandBackward].Simulate())

	err := h.dispatcher.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "backward")
	assert.Equal(t, TransactionLabel(0), h.dispatcher.Label(), "label unchanged after failed send")
}

func TestDispatcher_LinesDisabledDuringDebounce(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newDispatcherHarness(t, DispatcherConfig{Debounce: 200 * time.Millisecond})

	inDebounce := make(chan time.Duration, 1)
	release := make(chan struct{})
	h.dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		inDebounce <- d
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	stop := h.start(t)
	h.waitArmed(t, CommandForward)
	h.lines[CommandForward].Simulate()
	h.control.waitSend(t)

	select {
	case d := <-inDebounce:
		assert.Equal(t, 200*time.Millisecond, d)
	case <-time.After(time.Second):
		t.Fatal("dispatcher never entered debounce")
	}

	for c, l := range h.lines {
		assert.False(t, l.Armed(), c.String())
		assert.False(t, l.Simulate(), "edge during debounce is dropped")
	}
	_, pending := h.mailbox.Peek()
	assert.False(t, pending)

	close(release)
	h.waitArmed(t, CommandPause)
	require.NoError(t, stop())
	assert.Len(t, h.control.all(), 1)
}

func TestDispatcher_CancelWhileWaitingReturnsNil(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newDispatcherHarness(t, DispatcherConfig{})
	stop := h.start(t)
	h.waitArmed(t, CommandPlay)
	require.NoError(t, stop())

	for _, l := range h.lines {
		assert.False(t, l.Armed(), "lines disarmed on shutdown")
	}
	assert.Equal(t, DispatcherIdle, h.board.Snapshot().DispatcherState)
}
