// Package config owns the application configuration: the immutable Config
// snapshot type, YAML loading with defaults, and the supervised live-reload
// manager that republishes the configuration whenever the file changes.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/indicatord/internal/logfields"
)

// Config is the complete application configuration. It is treated as an
// immutable snapshot: a reload replaces the whole value, consumers never see
// a partially updated one.
type Config struct {
	AutoSleepTimeoutSecs      int `yaml:"auto_sleep_timeout_secs"`
	CommandPauseThresholdMS   int `yaml:"command_pause_threshold_ms"`
	DictationPauseThresholdMS int `yaml:"dictation_pause_threshold_ms"`

	Indicator        IndicatorConfig        `yaml:"indicator"`
	DictationService DictationServiceConfig `yaml:"dictation_service"`

	EnableActivationDemo       bool `yaml:"enable_activation_demo"`
	ActivationDemoIntervalSecs int  `yaml:"activation_demo_interval_secs"`
}

// IndicatorConfig holds the presentation indicator settings. Colors are
// named ("green") or hex ("#00ff00") strings; position is one of the four
// screen corners.
type IndicatorConfig struct {
	AwakeColor  string `yaml:"awake_color"`
	AsleepColor string `yaml:"asleep_color"`
	ErrorColor  string `yaml:"error_color"`
	Position    string `yaml:"position"`
}

// DictationServiceConfig locates the external dictation service.
type DictationServiceConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// URL returns the full HTTP URL for the dictation service.
func (d DictationServiceConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}

// AutoSleepTimeout returns the auto-sleep timeout as a duration.
func (c *Config) AutoSleepTimeout() time.Duration {
	return time.Duration(c.AutoSleepTimeoutSecs) * time.Second
}

// ActivationDemoInterval returns the demo toggle interval as a duration.
func (c *Config) ActivationDemoInterval() time.Duration {
	return time.Duration(c.ActivationDemoIntervalSecs) * time.Second
}

// Default returns a Config with every field at its documented default.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields with their defaults so partial
// config files behave predictably.
func applyDefaults(cfg *Config) {
	if cfg.AutoSleepTimeoutSecs == 0 {
		cfg.AutoSleepTimeoutSecs = 300
	}
	if cfg.CommandPauseThresholdMS == 0 {
		cfg.CommandPauseThresholdMS = 700
	}
	if cfg.DictationPauseThresholdMS == 0 {
		cfg.DictationPauseThresholdMS = 900
	}
	if cfg.Indicator.AwakeColor == "" {
		cfg.Indicator.AwakeColor = "green"
	}
	if cfg.Indicator.AsleepColor == "" {
		cfg.Indicator.AsleepColor = "gray"
	}
	if cfg.Indicator.ErrorColor == "" {
		cfg.Indicator.ErrorColor = "red"
	}
	if cfg.Indicator.Position == "" {
		cfg.Indicator.Position = "top-right"
	}
	if cfg.DictationService.Host == "" {
		cfg.DictationService.Host = "127.0.0.1"
	}
	if cfg.DictationService.Port == 0 {
		cfg.DictationService.Port = 5123
	}
	if cfg.ActivationDemoIntervalSecs == 0 {
		cfg.ActivationDemoIntervalSecs = 10
	}
}

// Validate ensures the configuration is usable. Color and position strings
// are not validated here; the indicator parses them with fallbacks so a typo
// in a color never blocks a reload.
func Validate(cfg *Config) error {
	if cfg.AutoSleepTimeoutSecs < 0 {
		return fmt.Errorf("auto_sleep_timeout_secs cannot be negative")
	}
	if cfg.CommandPauseThresholdMS < 0 || cfg.DictationPauseThresholdMS < 0 {
		return fmt.Errorf("pause thresholds cannot be negative")
	}
	if cfg.DictationService.Port < 1 || cfg.DictationService.Port > 65535 {
		return fmt.Errorf("dictation_service.port %d out of range", cfg.DictationService.Port)
	}
	if cfg.ActivationDemoIntervalSecs < 0 {
		return fmt.Errorf("activation_demo_interval_secs cannot be negative")
	}
	return nil
}

// Load reads, env-expands, parses and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content before parsing.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads the configuration file, falling back to defaults when
// the file is missing or unparsable. Startup never fails on a bad config
// file; a later valid reload corrects it live.
func LoadOrDefault(path string) *Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("config file not found, using defaults", logfields.Path(path))
		return Default()
	}
	cfg, err := Load(path)
	if err != nil {
		slog.Warn("failed to load config, using defaults", logfields.Path(path), logfields.Error(err))
		return Default()
	}
	slog.Info("config loaded", logfields.Path(path))
	return cfg
}
