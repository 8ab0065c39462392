package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the bluesink daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Pairing  PairingConfig  `yaml:"pairing"`
	Input    InputConfig    `yaml:"input"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Control  ControlConfig  `yaml:"control"`
	Stream   StreamConfig   `yaml:"stream"`
	Audio    AudioConfig    `yaml:"audio"`
	IPC      IPCConfig      `yaml:"ipc"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DeviceConfig struct {
	Name    string `yaml:"name"`
	Stack   string `yaml:"stack"`   // "bluez" or "none"
	Adapter string `yaml:"adapter"` // e.g. hci0
}

type PairingConfig struct {
	Discovery string   `yaml:"discovery"` // hidden, connectable, discoverable
	Decider   string   `yaml:"decider"`   // auto_accept or allowlist
	Allowlist []string `yaml:"allowlist,omitempty"`
}

type InputConfig struct {
	Driver string       `yaml:"driver"` // "evdev" or "virtual"
	Lines  []LineConfig `yaml:"lines"`
}

type LineConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Device  string `yaml:"device,omitempty"` // evdev only
	Key     string `yaml:"key,omitempty"`    // evdev only: KEY_* name or code
}

type DispatchConfig struct {
	DebounceMS   int `yaml:"debounce_ms"`
	InitialLabel int `yaml:"initial_label"`
}

type ControlConfig struct {
	Driver   string `yaml:"driver"`    // "bluez" or "log"
	NoPlayer string `yaml:"no_player"` // "fatal" or "ignore"
}

type StreamConfig struct {
	Driver     string `yaml:"driver"` // "pipe" or "wav"
	Path       string `yaml:"path"`
	FrameBytes int    `yaml:"frame_bytes"`
	Loop       bool   `yaml:"loop,omitempty"` // wav only
}

type AudioConfig struct {
	Backend          string `yaml:"backend"` // auto, alsa, pulseaudio, null
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	RingBytes        int    `yaml:"ring_bytes"`
	ForwardTimeoutMS int    `yaml:"forward_timeout_ms"`
	ForwardPolicy    string `yaml:"forward_policy"` // fatal or drop
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const defaultKeyDevice = "/dev/input/by-path/platform-gpio-keys-event"

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			Name:    defaultDeviceName,
			Stack:   "bluez",
			Adapter: "hci0",
		},
		Pairing: PairingConfig{
			Discovery: DiscoveryDiscoverable.String(),
			Decider:   AutoAccept{}.Name(),
		},
		Input: InputConfig{
			Driver: "evdev",
			Lines: []LineConfig{
				{Name: "forward", Command: "forward", Device: defaultKeyDevice, Key: "KEY_NEXTSONG"},
				{Name: "backward", Command: "backward", Device: defaultKeyDevice, Key: "KEY_PREVIOUSSONG"},
				{Name: "pause", Command: "pause", Device: defaultKeyDevice, Key: "KEY_PAUSECD"},
				{Name: "play", Command: "play", Device: defaultKeyDevice, Key: "KEY_PLAYCD"},
			},
		},
		Dispatch: DispatchConfig{
			DebounceMS: int(defaultDebounce / time.Millisecond),
		},
		Control: ControlConfig{
			Driver:   "bluez",
			NoPlayer: "fatal",
		},
		Stream: StreamConfig{
			Driver:     "pipe",
			Path:       "/run/bluesink/pcm.fifo",
			FrameBytes: defaultFrameBytes,
		},
		Audio: AudioConfig{
			Backend:          "alsa",
			SampleRate:       defaultSampleRate,
			Channels:         defaultChannels,
			RingBytes:        defaultRingBytes,
			ForwardTimeoutMS: int(defaultForwardTimeout / time.Millisecond),
			ForwardPolicy:    string(ForwardFatal),
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/bluesink.sock",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9470",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file over the defaults.
// Unknown fields are rejected (helps catch typos).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values from flags the user explicitly set. A nil
// pointer means "not set".
type FlagOverrides struct {
	DeviceName   *string
	Stack        *string
	InputDriver  *string
	ControlDrv   *string
	StreamDriver *string
	StreamPath   *string
	AudioBackend *string
	IPCSocket    *string
	HTTPListen   *string
	LogLevel     *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.Device.Name, o.DeviceName)
	set(&cfg.Device.Stack, o.Stack)
	set(&cfg.Input.Driver, o.InputDriver)
	set(&cfg.Control.Driver, o.ControlDrv)
	set(&cfg.Stream.Driver, o.StreamDriver)
	set(&cfg.Stream.Path, o.StreamPath)
	set(&cfg.Audio.Backend, o.AudioBackend)
	set(&cfg.IPC.SocketPath, o.IPCSocket)
	set(&cfg.HTTP.Listen, o.HTTPListen)
	set(&cfg.Logging.Level, o.LogLevel)
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Device
	if c.Device.Name == "" {
		return errors.New("device.name must not be empty")
	}
	switch c.Device.Stack {
	case "bluez":
		if c.Device.Adapter == "" {
			return errors.New("device.adapter must not be empty when device.stack is bluez")
		}
	case "none":
	default:
		return fmt.Errorf("device.stack must be %q or %q", "bluez", "none")
	}

	// Pairing
	if _, err := ParseDiscoveryMode(c.Pairing.Discovery); err != nil {
		return fmt.Errorf("pairing.discovery: %w", err)
	}
	if _, err := c.confirmationDecider(); err != nil {
		return err
	}

	// Input
	if c.Input.Driver != "evdev" && c.Input.Driver != "virtual" {
		return fmt.Errorf("input.driver must be %q or %q", "evdev", "virtual")
	}
	if len(c.Input.Lines) == 0 {
		return errors.New("input.lines must not be empty")
	}
	seen := make(map[string]bool, len(c.Input.Lines))
	for i, l := range c.Input.Lines {
		if l.Name == "" {
			return fmt.Errorf("input.lines[%d].name is empty", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("input.lines[%d].name %q is duplicated", i, l.Name)
		}
		seen[l.Name] = true
		if _, err := ParseLogicalCommand(l.Command); err != nil {
			return fmt.Errorf("input.lines[%d].command: %w", i, err)
		}
		if c.Input.Driver == "evdev" {
			if l.Device == "" {
				return fmt.Errorf("input.lines[%d].device is empty", i)
			}
			if _, err := parseKeyCode(l.Key); err != nil {
				return fmt.Errorf("input.lines[%d].key: %w", i, err)
			}
		}
	}

	// Dispatch
	if c.Dispatch.DebounceMS < 0 {
		return errors.New("dispatch.debounce_ms must be >= 0")
	}
	if c.Dispatch.InitialLabel < 0 || c.Dispatch.InitialLabel >= transactionLabelModulo {
		return fmt.Errorf("dispatch.initial_label must be between 0 and %d", transactionLabelModulo-1)
	}

	// Control
	switch c.Control.Driver {
	case "bluez":
		if c.Device.Stack != "bluez" {
			return errors.New("control.driver bluez needs device.stack bluez")
		}
	case "log":
	default:
		return fmt.Errorf("control.driver must be %q or %q", "bluez", "log")
	}
	if c.Control.NoPlayer != "fatal" && c.Control.NoPlayer != "ignore" {
		return fmt.Errorf("control.no_player must be %q or %q", "fatal", "ignore")
	}

	// Stream
	if c.Stream.Driver != "pipe" && c.Stream.Driver != "wav" {
		return fmt.Errorf("stream.driver must be %q or %q", "pipe", "wav")
	}
	if c.Stream.Path == "" {
		return errors.New("stream.path must not be empty")
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return errors.New("audio.channels must be 1 or 2")
	}
	frame := bytesPerSample * c.Audio.Channels
	if c.Stream.FrameBytes <= 0 || c.Stream.FrameBytes%frame != 0 {
		return fmt.Errorf("stream.frame_bytes must be a positive multiple of %d", frame)
	}

	// Audio
	if _, err := parseMalgoBackend(c.Audio.Backend); err != nil {
		return fmt.Errorf("audio.backend: %w", err)
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.RingBytes < c.Stream.FrameBytes {
		return errors.New("audio.ring_bytes must be >= stream.frame_bytes")
	}
	if c.Audio.ForwardTimeoutMS <= 0 {
		return errors.New("audio.forward_timeout_ms must be > 0")
	}
	if _, err := ParseForwardPolicy(c.Audio.ForwardPolicy); err != nil {
		return fmt.Errorf("audio.forward_policy: %w", err)
	}

	// IPC / HTTP
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("http.listen must not be empty when http.enabled is true")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func (c *Config) confirmationDecider() (ConfirmationDecider, error) {
	switch c.Pairing.Decider {
	case AutoAccept{}.Name():
		return AutoAccept{}, nil
	case "allowlist":
		if len(c.Pairing.Allowlist) == 0 {
			return nil, errors.New("pairing.allowlist must not be empty when pairing.decider is allowlist")
		}
		addrs := make([]Address, 0, len(c.Pairing.Allowlist))
		for i, s := range c.Pairing.Allowlist {
			a, err := ParseAddress(s)
			if err != nil {
				return nil, fmt.Errorf("pairing.allowlist[%d]: %w", i, err)
			}
			addrs = append(addrs, a)
		}
		return NewAllowlist(addrs), nil
	default:
		return nil, fmt.Errorf("pairing.decider must be %q or %q", "auto_accept", "allowlist")
	}
}

// ToPairingPolicyConfig assumes Validate has passed.
func (c *Config) ToPairingPolicyConfig() PairingPolicyConfig {
	mode, _ := ParseDiscoveryMode(c.Pairing.Discovery)
	decider, _ := c.confirmationDecider()
	return PairingPolicyConfig{
		DeviceName: c.Device.Name,
		Mode:       mode,
		Decider:    decider,
	}
}

func (c *Config) ToDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Debounce:     time.Duration(c.Dispatch.DebounceMS) * time.Millisecond,
		InitialLabel: TransactionLabel(c.Dispatch.InitialLabel),
	}
}

func (c *Config) ToAudioBridgeConfig() AudioBridgeConfig {
	return AudioBridgeConfig{
		Timeout: time.Duration(c.Audio.ForwardTimeoutMS) * time.Millisecond,
		Policy:  ForwardPolicy(c.Audio.ForwardPolicy),
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
