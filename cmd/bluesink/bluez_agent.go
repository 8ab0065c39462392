package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// bluezDiscovery implements DiscoveryLayer on BlueZ: adapter properties for
// name and discoverability, and an exported Agent1 for the SSP handshake.
type bluezDiscovery struct {
	bz     *bluezConn
	logger *slog.Logger

	mu         sync.Mutex
	capability IOCapability
	capSet     bool
	handler    HandshakeHandler
	registered bool
	pending    map[Address]chan bool

	fatal chan error
}

func newBluezDiscovery(bz *bluezConn, logger *slog.Logger) *bluezDiscovery {
	return &bluezDiscovery{
		bz:      bz,
		logger:  componentLogger(logger, "bluez-agent"),
		pending: make(map[Address]chan bool),
		fatal:   make(chan error, 1),
	}
}

func (d *bluezDiscovery) SetDeviceName(name string) error {
	if name == "" {
		return errors.New("device name is empty")
	}
	if err := d.bz.setProp(d.bz.adapter, adapterIface, "Alias", name); err != nil {
		return fmt.Errorf("set adapter alias: %w", err)
	}
	return nil
}

func (d *bluezDiscovery) SetDiscoverability(mode DiscoveryMode) error {
	type prop struct {
		name string
		val  any
	}
	var props []prop
	switch mode {
	case DiscoveryHidden:
		props = []prop{{"Discoverable", false}, {"Pairable", false}}
	case DiscoveryConnectable:
		props = []prop{{"Powered", true}, {"Discoverable", false}, {"Pairable", true}}
	case DiscoveryDiscoverable:
		props = []prop{
			{"Powered", true},
			{"DiscoverableTimeout", uint32(0)},
			{"PairableTimeout", uint32(0)},
			{"Pairable", true},
			{"Discoverable", true},
		}
	default:
		return fmt.Errorf("unknown discovery mode %d", mode)
	}
	for _, p := range props {
		if err := d.bz.setProp(d.bz.adapter, adapterIface, p.name, p.val); err != nil {
			return fmt.Errorf("set adapter %s: %w", p.name, err)
		}
	}
	return nil
}

// SetIOCapability records the capability used when the agent registers.
func (d *bluezDiscovery) SetIOCapability(c IOCapability) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registered {
		return errors.New("io capability must be set before the agent registers")
	}
	d.capability = c
	d.capSet = true
	return nil
}

// SubscribeHandshake exports the agent and makes it the default agent.
func (d *bluezDiscovery) SubscribeHandshake(h HandshakeHandler) error {
	if h == nil {
		return errors.New("nil handshake handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.capSet {
		return errors.New("io capability not set")
	}
	d.handler = h
	if d.registered {
		return nil
	}

	if err := d.bz.conn.Export(&bluezAgent{d: d}, agentPath, agentIface); err != nil {
		return fmt.Errorf("export agent: %w", err)
	}
	mgr := d.bz.object(bluezRootPath)
	if err := mgr.Call(agentManagerIface+".RegisterAgent", 0, agentPath, d.capability.String()).Err; err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	if err := mgr.Call(agentManagerIface+".RequestDefaultAgent", 0, agentPath).Err; err != nil {
		return fmt.Errorf("request default agent: %w", err)
	}
	d.registered = true
	d.logger.Info("agent registered", "path", agentPath, "capability", d.capability.String())
	return nil
}

func (d *bluezDiscovery) ReplyConfirmation(addr Address, accept bool) error {
	d.mu.Lock()
	ch, ok := d.pending[addr]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %s", ErrNoPendingConfirmation, addr)
	}
	select {
	case ch <- accept:
		return nil
	default:
		return fmt.Errorf("confirmation for %s already answered", addr)
	}
}

// Fatal reports handshake handler failures. They arrive on BlueZ's call
// goroutine, so the daemon picks them up from here.
func (d *bluezDiscovery) Fatal() <-chan error { return d.fatal }

func (d *bluezDiscovery) Close() error {
	d.mu.Lock()
	registered := d.registered
	d.registered = false
	d.mu.Unlock()
	if !registered {
		return nil
	}
	err := d.bz.object(bluezRootPath).Call(agentManagerIface+".UnregisterAgent", 0, agentPath).Err
	_ = d.bz.conn.Export(nil, agentPath, agentIface)
	if err != nil {
		return fmt.Errorf("unregister agent: %w", err)
	}
	return nil
}

// deliver hands ev to the subscribed handler. Handler errors are fatal.
func (d *bluezDiscovery) deliver(ev HandshakeEvent) error {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h == nil {
		return errors.New("no handshake handler")
	}
	if err := h.HandleHandshake(ev); err != nil {
		select {
		case d.fatal <- err:
		default:
		}
		return err
	}
	return nil
}

func (d *bluezDiscovery) beginConfirmation(addr Address) chan bool {
	ch := make(chan bool, 1)
	d.mu.Lock()
	d.pending[addr] = ch
	d.mu.Unlock()
	return ch
}

func (d *bluezDiscovery) endConfirmation(addr Address) {
	d.mu.Lock()
	delete(d.pending, addr)
	d.mu.Unlock()
}

// bluezAgent is the exported org.bluez.Agent1 object. Every exported method
// is visible on the bus.
type bluezAgent struct {
	d *bluezDiscovery
}

func rejected() *dbus.Error {
	return dbus.NewError(bluezErrRejected, []any{"rejected by pairing policy"})
}

func (a *bluezAgent) device(path dbus.ObjectPath) (Address, *dbus.Error) {
	addr, ok := addressFromPath(path)
	if !ok {
		return Address{}, dbus.NewError(bluezErrRejected, []any{"unknown device path " + string(path)})
	}
	return addr, nil
}

func (a *bluezAgent) Release() *dbus.Error {
	a.d.logger.Info("agent released by bluez")
	return nil
}

func (a *bluezAgent) RequestPinCode(path dbus.ObjectPath) (string, *dbus.Error) {
	addr, derr := a.device(path)
	if derr != nil {
		return "", derr
	}
	if err := a.d.deliver(PinCodeRequest{Address: addr}); err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return "", rejected()
}

func (a *bluezAgent) DisplayPinCode(path dbus.ObjectPath, pincode string) *dbus.Error {
	addr, derr := a.device(path)
	if derr != nil {
		return derr
	}
	if err := a.d.deliver(UnknownHandshake{Name: "display_pin_code " + addr.String()}); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (a *bluezAgent) RequestPasskey(path dbus.ObjectPath) (uint32, *dbus.Error) {
	addr, derr := a.device(path)
	if derr != nil {
		return 0, derr
	}
	if err := a.d.deliver(UnknownHandshake{Name: "request_passkey " + addr.String()}); err != nil {
		return 0, dbus.MakeFailedError(err)
	}
	return 0, rejected()
}

func (a *bluezAgent) DisplayPasskey(path dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	addr, derr := a.device(path)
	if derr != nil {
		return derr
	}
	if err := a.d.deliver(PasskeyNotification{Address: addr, Passkey: passkey}); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// RequestConfirmation blocks BlueZ until the policy has replied.
func (a *bluezAgent) RequestConfirmation(path dbus.ObjectPath, passkey uint32) *dbus.Error {
	addr, derr := a.device(path)
	if derr != nil {
		return derr
	}
	reply := a.d.beginConfirmation(addr)
	defer a.d.endConfirmation(addr)

	if err := a.d.deliver(ConfirmationRequest{Address: addr, Number: passkey}); err != nil {
		return dbus.MakeFailedError(err)
	}
	select {
	case ok := <-reply:
		if ok {
			return nil
		}
		return rejected()
	default:
		a.d.logger.Warn("confirmation request left unanswered", "address", addr.String())
		return rejected()
	}
}

func (a *bluezAgent) RequestAuthorization(path dbus.ObjectPath) *dbus.Error {
	addr, derr := a.device(path)
	if derr != nil {
		return derr
	}
	if err := a.d.deliver(AuthorizationRequest{Address: addr}); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (a *bluezAgent) AuthorizeService(path dbus.ObjectPath, uuid string) *dbus.Error {
	addr, derr := a.device(path)
	if derr != nil {
		return derr
	}
	if err := a.d.deliver(AuthorizationRequest{Address: addr, Service: uuid}); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (a *bluezAgent) Cancel() *dbus.Error {
	if err := a.d.deliver(PairingCanceled{}); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}
