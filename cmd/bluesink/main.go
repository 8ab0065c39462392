package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const version = "0.3.0"

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string

	deviceName   string
	stack        string
	inputDriver  string
	controlDrv   string
	streamDriver string
	streamPath   string
	audioBackend string
	ipcSocket    string
	httpListen   string
	logLevel     string
}

func rootCommand() *cobra.Command {
	var flags cliFlags

	root := &cobra.Command{
		Use:   "bluesink",
		Short: "Bluetooth car-audio sink daemon",
		Long: `bluesink turns a Linux board into a Bluetooth audio sink named "MY CAR".
It plays the phone's audio stream, answers pairing requests and maps four
buttons to forward/backward/pause/play remote-control commands.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, &flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to YAML config file")
	pf.StringVar(&flags.deviceName, "device-name", "", "Bluetooth device name (default \"MY CAR\")")
	pf.StringVar(&flags.stack, "stack", "", "Bluetooth stack: bluez|none")
	pf.StringVar(&flags.inputDriver, "input", "", "input driver: evdev|virtual")
	pf.StringVar(&flags.controlDrv, "control", "", "control channel: bluez|log")
	pf.StringVar(&flags.streamDriver, "stream", "", "stream source: pipe|wav")
	pf.StringVar(&flags.streamPath, "stream-path", "", "PCM FIFO, file, \"-\" for stdin, or WAV file")
	pf.StringVar(&flags.audioBackend, "audio-backend", "", "audio backend: auto|alsa|pulseaudio|null")
	pf.StringVar(&flags.ipcSocket, "ipc-socket", "", "Unix domain socket path for IPC")
	pf.StringVar(&flags.httpListen, "http-listen", "", "HTTP listen address for /ws, /status and /metrics")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: error|warn|info|debug")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, &flags)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bluesink v%s\n", version)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})

	root.AddCommand(runCmd, versionCmd, configCmd)
	return root
}

// loadConfig applies defaults, then the config file, then flags the user
// explicitly set, then validates.
func loadConfig(cmd *cobra.Command, flags *cliFlags) (Config, error) {
	cfg := DefaultConfig()
	if flags.configPath != "" {
		loaded, err := LoadConfigFile(flags.configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	changed := func(name string, v *string) *string {
		if cmd.Flags().Changed(name) {
			return v
		}
		return nil
	}
	FlagOverrides{
		DeviceName:   changed("device-name", &flags.deviceName),
		Stack:        changed("stack", &flags.stack),
		InputDriver:  changed("input", &flags.inputDriver),
		ControlDrv:   changed("control", &flags.controlDrv),
		StreamDriver: changed("stream", &flags.streamDriver),
		StreamPath:   changed("stream-path", &flags.streamPath),
		AudioBackend: changed("audio-backend", &flags.audioBackend),
		IPCSocket:    changed("ipc-socket", &flags.ipcSocket),
		HTTPListen:   changed("http-listen", &flags.httpListen),
		LogLevel:     changed("log-level", &flags.logLevel),
	}.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runCommand(cmd *cobra.Command, flags *cliFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := setupLogger(os.Stdout, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, cfg, logger)
}
