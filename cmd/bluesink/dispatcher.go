package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ============================================================================
// Command Dispatcher
// ============================================================================
// One dispatch cycle:
//
//	enable all lines -> wait for wake -> disable all lines -> take mailbox
//	-> send passthrough (label, cmd, pressed) -> advance label -> debounce
//
// Every line stays disabled from the wake until the next cycle starts, so the
// debounce interval is a dead time for input. The label is owned by the
// dispatcher and advances only when a command is actually sent.
// ============================================================================

// DispatcherState is the externally visible phase of the loop.
type DispatcherState string

const (
	DispatcherIdle        DispatcherState = "idle"
	DispatcherArmed       DispatcherState = "armed"
	DispatcherDispatching DispatcherState = "dispatching"
)

// ControlChannel delivers passthrough commands to the connected host.
type ControlChannel interface {
	SendPassthrough(ctx context.Context, label TransactionLabel, cmd LogicalCommand, pressed bool) error
}

// LineSet is the dispatcher's view of the input lines.
type LineSet interface {
	EnableAll() error
	DisableAll() error
}

type DispatcherConfig struct {
	Debounce     time.Duration
	InitialLabel TransactionLabel
}

type Dispatcher struct {
	lines    LineSet
	mailbox  *ActionMailbox
	wake     *WakeSignal
	control  ControlChannel
	debounce time.Duration
	observer Observer
	logger   *slog.Logger

	label TransactionLabel

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(lines LineSet, mailbox *ActionMailbox, wake *WakeSignal, control ControlChannel, cfg DispatcherConfig, observer Observer, logger *slog.Logger) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		lines:    lines,
		mailbox:  mailbox,
		wake:     wake,
		control:  control,
		debounce: cfg.Debounce,
		observer: observer,
		logger:   componentLogger(logger, "dispatcher"),
		label:    TransactionLabel(uint8(cfg.InitialLabel) % transactionLabelModulo),
		sleep:    sleepContext,
	}
}

// Label returns the label the next dispatched command will carry.
// Not safe to call while Run is active.
func (d *Dispatcher) Label() TransactionLabel { return d.label }

// Run executes dispatch cycles until ctx is canceled (returns nil) or the
// control channel fails (returns the error).
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.observer.DispatcherStateChanged(DispatcherIdle)

	for {
		if err := d.lines.EnableAll(); err != nil {
			return fmt.Errorf("arm input lines: %w", err)
		}
		d.observer.DispatcherStateChanged(DispatcherArmed)

		if err := d.wake.Wait(ctx); err != nil {
			if dErr := d.lines.DisableAll(); dErr != nil {
				d.logger.Warn("disarm on shutdown failed", "error", dErr)
			}
			d.logger.Info("dispatcher stopping (context canceled)")
			return nil
		}

		if err := d.lines.DisableAll(); err != nil {
			return fmt.Errorf("disarm input lines: %w", err)
		}
		d.observer.DispatcherStateChanged(DispatcherDispatching)

		// A handler that raced the disable may have posted after our wake.
		// Its command is already in the mailbox, so the post is stale.
		d.wake.Drain()

		if err := d.dispatchPending(ctx); err != nil {
			return err
		}

		if err := d.sleep(ctx, d.debounce); err != nil {
			d.logger.Info("dispatcher stopping during debounce")
			return nil
		}
	}
}

func (d *Dispatcher) dispatchPending(ctx context.Context) error {
	cmd, ok := d.mailbox.Take()
	if !ok {
		d.logger.Debug("woken with empty mailbox")
		return nil
	}

	label := d.label
	if err := d.control.SendPassthrough(ctx, label, cmd, true); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("send passthrough %s (label %d): %w", cmd, label, err)
	}
	d.label = label.Next()

	d.logger.Info("command dispatched", "command", cmd.String(), "label", uint8(label))
	d.observer.CommandDispatched(label, cmd)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
