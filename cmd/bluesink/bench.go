package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Bench adapters for running without a Bluetooth stack (device.stack: none,
// control.driver: log). They log what would have been sent.

type logControl struct {
	logger *slog.Logger
}

func newLogControl(logger *slog.Logger) *logControl {
	return &logControl{logger: componentLogger(logger, "control")}
}

func (c *logControl) SendPassthrough(_ context.Context, label TransactionLabel, cmd LogicalCommand, pressed bool) error {
	c.logger.Info("passthrough", "command", cmd.String(), "label", uint8(label), "pressed", pressed)
	return nil
}

type logDiscovery struct {
	logger *slog.Logger

	injectMu sync.Mutex // one injected confirmation at a time

	mu      sync.Mutex
	handler HandshakeHandler
	pending *benchReply
}

// benchReply captures the reply to an injected confirmation request.
type benchReply struct {
	addr    Address
	accept  bool
	replied bool
}

func newLogDiscovery(logger *slog.Logger) *logDiscovery {
	return &logDiscovery{logger: componentLogger(logger, "discovery")}
}

func (d *logDiscovery) SetDeviceName(name string) error {
	d.logger.Info("device name", "name", name)
	return nil
}

func (d *logDiscovery) SetDiscoverability(mode DiscoveryMode) error {
	d.logger.Info("discovery mode", "mode", mode.String())
	return nil
}

func (d *logDiscovery) SetIOCapability(c IOCapability) error {
	d.logger.Info("io capability", "capability", c.String())
	return nil
}

func (d *logDiscovery) SubscribeHandshake(h HandshakeHandler) error {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
	return nil
}

// InjectConfirmation feeds a confirmation request to the subscribed handler,
// standing in for a phone on the bench, and returns the reply it produced.
func (d *logDiscovery) InjectConfirmation(req ConfirmationRequest) (bool, error) {
	d.injectMu.Lock()
	defer d.injectMu.Unlock()

	reply := &benchReply{addr: req.Address}
	d.mu.Lock()
	h := d.handler
	if h != nil {
		d.pending = reply
	}
	d.mu.Unlock()
	if h == nil {
		return false, errors.New("no handshake handler subscribed")
	}
	defer func() {
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
	}()

	if err := h.HandleHandshake(req); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !reply.replied {
		return false, fmt.Errorf("no confirmation reply for %s", req.Address)
	}
	return reply.accept, nil
}

func (d *logDiscovery) ReplyConfirmation(addr Address, accept bool) error {
	d.logger.Info("confirmation reply", "address", addr.String(), "accept", accept)
	d.mu.Lock()
	if p := d.pending; p != nil && p.addr == addr && !p.replied {
		p.accept = accept
		p.replied = true
	}
	d.mu.Unlock()
	return nil
}
