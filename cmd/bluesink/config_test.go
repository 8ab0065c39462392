package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "MY CAR", cfg.Device.Name)
	assert.Len(t, cfg.Input.Lines, 4)

	pc := cfg.ToPairingPolicyConfig()
	assert.Equal(t, DiscoveryDiscoverable, pc.Mode)
	assert.IsType(t, AutoAccept{}, pc.Decider)

	dc := cfg.ToDispatcherConfig()
	assert.Equal(t, 200*time.Millisecond, dc.Debounce)
	assert.Equal(t, TransactionLabel(0), dc.InitialLabel)

	bc := cfg.ToAudioBridgeConfig()
	assert.Equal(t, 10*time.Second, bc.Timeout)
	assert.Equal(t, ForwardFatal, bc.Policy)
}

func TestParseConfig_OverlaysDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
device:
  name: "BENCH"
  stack: none
pairing:
  decider: allowlist
  allowlist: ["aa:bb:cc:dd:ee:ff"]
input:
  driver: virtual
  lines:
    - {name: a, command: next}
    - {name: b, command: play}
control:
  driver: log
dispatch:
  debounce_ms: 50
  initial_label: 14
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "BENCH", cfg.Device.Name)
	assert.Equal(t, "hci0", cfg.Device.Adapter, "untouched defaults survive")
	assert.Len(t, cfg.Input.Lines, 2, "lists replace the default")
	assert.Equal(t, 44100, cfg.Audio.SampleRate)

	pc := cfg.ToPairingPolicyConfig()
	allow, ok := pc.Decider.(*Allowlist)
	require.True(t, ok)
	assert.True(t, allow.Decide(ConfirmationRequest{Address: Address{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}))
	assert.Equal(t, TransactionLabel(14), cfg.ToDispatcherConfig().InitialLabel)
}

func TestParseConfig_RejectsUnknownFieldsAndTrailingDocs(t *testing.T) {
	_, err := parseConfig([]byte("device:\n  nmae: typo\n"))
	assert.Error(t, err)

	_, err = parseConfig([]byte("device:\n  name: A\n---\ndevice:\n  name: B\n"))
	assert.ErrorContains(t, err, "trailing document")
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty name", func(c *Config) { c.Device.Name = "" }, "device.name"},
		{"bad stack", func(c *Config) { c.Device.Stack = "fluoride" }, "device.stack"},
		{"bad discovery", func(c *Config) { c.Pairing.Discovery = "loud" }, "pairing.discovery"},
		{"empty allowlist", func(c *Config) { c.Pairing.Decider = "allowlist" }, "pairing.allowlist"},
		{"bad allowlist entry", func(c *Config) {
			c.Pairing.Decider = "allowlist"
			c.Pairing.Allowlist = []string{"nope"}
		}, "pairing.allowlist[0]"},
		{"bad input driver", func(c *Config) { c.Input.Driver = "gpio" }, "input.driver"},
		{"no lines", func(c *Config) { c.Input.Lines = nil }, "input.lines"},
		{"duplicate line", func(c *Config) { c.Input.Lines[1].Name = c.Input.Lines[0].Name }, "duplicated"},
		{"bad command", func(c *Config) { c.Input.Lines[0].Command = "eject" }, "command"},
		{"bad key", func(c *Config) { c.Input.Lines[0].Key = "KEY_BOGUS" }, "key"},
		{"negative debounce", func(c *Config) { c.Dispatch.DebounceMS = -1 }, "debounce_ms"},
		{"label out of range", func(c *Config) { c.Dispatch.InitialLabel = 16 }, "initial_label"},
		{"bluez control without bluez", func(c *Config) { c.Device.Stack = "none" }, "control.driver"},
		{"bad no_player", func(c *Config) { c.Control.NoPlayer = "retry" }, "no_player"},
		{"bad stream driver", func(c *Config) { c.Stream.Driver = "a2dp" }, "stream.driver"},
		{"odd frame", func(c *Config) { c.Stream.FrameBytes = 6 }, "frame_bytes"},
		{"bad backend", func(c *Config) { c.Audio.Backend = "jack" }, "audio.backend"},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }, "audio.channels"},
		{"zero channels", func(c *Config) { c.Audio.Channels = 0 }, "audio.channels"},
		{"small ring", func(c *Config) { c.Audio.RingBytes = 16 }, "ring_bytes"},
		{"zero timeout", func(c *Config) { c.Audio.ForwardTimeoutMS = 0 }, "forward_timeout_ms"},
		{"bad policy", func(c *Config) { c.Audio.ForwardPolicy = "retry" }, "forward_policy"},
		{"http without listen", func(c *Config) { c.HTTP.Listen = "" }, "http.listen"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFlagOverrides_OnlySetFieldsApply(t *testing.T) {
	cfg := DefaultConfig()
	name := "TEST CAR"
	stack := "none"
	FlagOverrides{DeviceName: &name, Stack: &stack}.Apply(&cfg)

	assert.Equal(t, "TEST CAR", cfg.Device.Name)
	assert.Equal(t, "none", cfg.Device.Stack)
	assert.Equal(t, "evdev", cfg.Input.Driver)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bluesink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	l, err := parseLogLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, l)

	_, err = parseLogLevel("trace")
	assert.Error(t, err)
}
