package main

import (
	"errors"
	"fmt"
	"log/slog"
)

// ============================================================================
// Pairing Policy
// ============================================================================

// DiscoveryMode controls whether the device can be found and connected.
type DiscoveryMode uint8

const (
	DiscoveryHidden DiscoveryMode = iota
	DiscoveryConnectable
	DiscoveryDiscoverable
)

func (m DiscoveryMode) String() string {
	switch m {
	case DiscoveryHidden:
		return "hidden"
	case DiscoveryConnectable:
		return "connectable"
	case DiscoveryDiscoverable:
		return "discoverable"
	default:
		return fmt.Sprintf("DiscoveryMode(%d)", uint8(m))
	}
}

func ParseDiscoveryMode(s string) (DiscoveryMode, error) {
	switch s {
	case "hidden":
		return DiscoveryHidden, nil
	case "connectable":
		return DiscoveryConnectable, nil
	case "discoverable":
		return DiscoveryDiscoverable, nil
	default:
		return 0, fmt.Errorf("invalid discovery mode %q (must be hidden, connectable, or discoverable)", s)
	}
}

// IOCapability is the secure simple pairing IO capability we advertise.
type IOCapability uint8

const (
	// IOCapDisplayInput can show a number and take a yes/no answer.
	IOCapDisplayInput IOCapability = iota
	IOCapDisplayOnly
	IOCapKeyboardOnly
	IOCapNoInputNoOutput
)

func (c IOCapability) String() string {
	switch c {
	case IOCapDisplayInput:
		return "DisplayYesNo"
	case IOCapDisplayOnly:
		return "DisplayOnly"
	case IOCapKeyboardOnly:
		return "KeyboardOnly"
	case IOCapNoInputNoOutput:
		return "NoInputNoOutput"
	default:
		return fmt.Sprintf("IOCapability(%d)", uint8(c))
	}
}

// HandshakeEvent is one event of the pairing handshake. Only
// ConfirmationRequest needs a reply from the policy.
type HandshakeEvent interface {
	handshakeEvent()
	Kind() string
}

// ConfirmationRequest asks whether Number matches what the peer shows.
type ConfirmationRequest struct {
	Address Address
	Number  uint32
}

type PinCodeRequest struct {
	Address Address
}

type PasskeyNotification struct {
	Address Address
	Passkey uint32
}

type AuthorizationRequest struct {
	Address Address
	Service string
}

type AuthenticationComplete struct {
	Address Address
	Success bool
}

type PairingCanceled struct{}

type UnknownHandshake struct {
	Name string
}

func (ConfirmationRequest) handshakeEvent()    {}
func (PinCodeRequest) handshakeEvent()         {}
func (PasskeyNotification) handshakeEvent()    {}
func (AuthorizationRequest) handshakeEvent()   {}
func (AuthenticationComplete) handshakeEvent() {}
func (PairingCanceled) handshakeEvent()        {}
func (UnknownHandshake) handshakeEvent()       {}

func (ConfirmationRequest) Kind() string    { return "confirmation_request" }
func (PinCodeRequest) Kind() string         { return "pin_code_request" }
func (PasskeyNotification) Kind() string    { return "passkey_notification" }
func (AuthorizationRequest) Kind() string   { return "authorization_request" }
func (AuthenticationComplete) Kind() string { return "authentication_complete" }
func (PairingCanceled) Kind() string        { return "pairing_canceled" }
func (UnknownHandshake) Kind() string       { return "unknown" }

// HandshakeHandler consumes handshake events. A returned error is fatal.
type HandshakeHandler interface {
	HandleHandshake(ev HandshakeEvent) error
}

// DiscoveryLayer is the Bluetooth stack's discovery and pairing surface.
type DiscoveryLayer interface {
	SetDeviceName(name string) error
	SetDiscoverability(mode DiscoveryMode) error
	SetIOCapability(cap IOCapability) error
	SubscribeHandshake(h HandshakeHandler) error
	ReplyConfirmation(addr Address, accept bool) error
}

var (
	ErrPairingRejected       = errors.New("pairing rejected")
	ErrNoPendingConfirmation = errors.New("no pending confirmation for address")
)

// ConfirmationDecider decides numeric-comparison requests.
type ConfirmationDecider interface {
	Name() string
	Decide(req ConfirmationRequest) bool
}

// AutoAccept accepts every request without comparing the number. It stands
// in until a real comparison UI exists.
type AutoAccept struct{}

func (AutoAccept) Name() string                    { return "auto_accept" }
func (AutoAccept) Decide(ConfirmationRequest) bool { return true }

// Allowlist accepts only known addresses.
type Allowlist struct {
	allowed map[Address]struct{}
}

func NewAllowlist(addrs []Address) *Allowlist {
	m := make(map[Address]struct{}, len(addrs))
	for _, a := range addrs {
		m[a] = struct{}{}
	}
	return &Allowlist{allowed: m}
}

func (a *Allowlist) Name() string { return "allowlist" }

func (a *Allowlist) Decide(req ConfirmationRequest) bool {
	_, ok := a.allowed[req.Address]
	return ok
}

type PairingPolicyConfig struct {
	DeviceName string
	Mode       DiscoveryMode
	Decider    ConfirmationDecider
}

// PairingPolicy configures the discovery layer at startup and answers its
// handshake events.
type PairingPolicy struct {
	cfg      PairingPolicyConfig
	layer    DiscoveryLayer
	observer Observer
	logger   *slog.Logger
}

func NewPairingPolicy(cfg PairingPolicyConfig, observer Observer, logger *slog.Logger) *PairingPolicy {
	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName
	}
	if cfg.Decider == nil {
		cfg.Decider = AutoAccept{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &PairingPolicy{
		cfg:      cfg,
		observer: observer,
		logger:   componentLogger(logger, "pairing"),
	}
}

// Configure names the device, fixes the IO capability and subscribes the
// policy to handshake events. Discoverability is set separately by Advertise
// once the audio path is ready.
func (p *PairingPolicy) Configure(layer DiscoveryLayer) error {
	if layer == nil {
		return errors.New("pairing policy: nil discovery layer")
	}
	p.layer = layer

	if err := layer.SetDeviceName(p.cfg.DeviceName); err != nil {
		return fmt.Errorf("set device name: %w", err)
	}
	if err := layer.SetIOCapability(IOCapDisplayInput); err != nil {
		return fmt.Errorf("set io capability: %w", err)
	}
	if err := layer.SubscribeHandshake(p); err != nil {
		return fmt.Errorf("subscribe handshake: %w", err)
	}
	if _, auto := p.cfg.Decider.(AutoAccept); auto {
		p.logger.Warn("numeric comparison is not verified; every confirmation request is accepted")
	}
	p.logger.Info("pairing configured", "name", p.cfg.DeviceName, "io_capability", IOCapDisplayInput.String(), "decider", p.cfg.Decider.Name())
	return nil
}

// Advertise applies the configured discovery mode.
func (p *PairingPolicy) Advertise() error {
	if p.layer == nil {
		return errors.New("pairing policy: not configured")
	}
	if err := p.layer.SetDiscoverability(p.cfg.Mode); err != nil {
		return fmt.Errorf("set discoverability %s: %w", p.cfg.Mode, err)
	}
	p.logger.Info("discovery mode set", "mode", p.cfg.Mode.String())
	return nil
}

func (p *PairingPolicy) HandleHandshake(ev HandshakeEvent) error {
	p.observer.HandshakeObserved(ev)

	switch e := ev.(type) {
	case ConfirmationRequest:
		accept := p.cfg.Decider.Decide(e)
		p.logger.Info("confirmation request", "address", e.Address.String(), "number", fmt.Sprintf("%06d", e.Number), "accept", accept, "decider", p.cfg.Decider.Name())
		if err := p.layer.ReplyConfirmation(e.Address, accept); err != nil {
			return fmt.Errorf("reply confirmation to %s: %w", e.Address, err)
		}
		p.observer.PairingRequest(e, accept, p.cfg.Decider.Name())
	case AuthenticationComplete:
		if e.Success {
			p.logger.Info("authentication complete", "address", e.Address.String())
		} else {
			p.logger.Warn("authentication failed", "address", e.Address.String())
		}
	case PinCodeRequest:
		p.logger.Info("pin code requested", "address", e.Address.String())
	case PasskeyNotification:
		p.logger.Info("passkey notification", "address", e.Address.String(), "passkey", fmt.Sprintf("%06d", e.Passkey))
	default:
		p.logger.Info("handshake event", "kind", ev.Kind(), "event", fmt.Sprintf("%+v", ev))
	}
	return nil
}
