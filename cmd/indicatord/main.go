package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/indicatord/internal/config"
	"git.home.luguber.info/inful/indicatord/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Run struct {
		Backend     string `help:"Indicator backend (nats or mock)" enum:"nats,mock" default:"nats"`
		NatsURL     string `name:"nats-url" help:"NATS server URL" default:"nats://127.0.0.1:4222"`
		NatsSubject string `name:"nats-subject" help:"NATS subject for color updates" default:"indicatord.color"`
		AdminAddr   string `help:"Admin HTTP listen address (metrics, health)" default:"127.0.0.1:9321"`
	} `cmd:"" help:"Run the indicator daemon"`

	Init struct {
		Force bool `help:"Overwrite an existing configuration file"`
	} `cmd:"" help:"Write a default configuration file"`

	Check struct{} `cmd:"" help:"Validate the configuration file and exit"`
}

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	ctx := kong.Parse(&CLI, kong.Vars{"version": version.Version})

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	switch ctx.Command() {
	case "run":
		if err := runDaemon(); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	case "check":
		if err := runCheck(CLI.Config); err != nil {
			slog.Error("Config check failed", "error", err)
			os.Exit(1)
		}
	}
}

const defaultConfigYAML = `# indicatord configuration
# Changes are applied live; no restart required.

# Seconds of inactivity before the system goes back to sleep.
auto_sleep_timeout_secs: 300

# Pause thresholds for the dictation service, in milliseconds.
command_pause_threshold_ms: 700
dictation_pause_threshold_ms: 900

indicator:
  # Named colors (green, gray, red, blue, ...) or hex (#00ff00, #00ff00cc).
  awake_color: green
  asleep_color: gray
  error_color: red
  # One of: top-left, top-right, bottom-left, bottom-right.
  position: top-right

dictation_service:
  host: 127.0.0.1
  port: 5123

# Toggle awake/asleep periodically; useful when testing a renderer.
enable_activation_demo: false
activation_demo_interval_secs: 10
`

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	slog.Info("Wrote default configuration", "path", path)
	return nil
}

func runCheck(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	slog.Info("Configuration is valid",
		"path", path,
		"auto_sleep_timeout", cfg.AutoSleepTimeout(),
		"position", cfg.Indicator.Position)
	return nil
}
