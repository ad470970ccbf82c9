// Package config loads the runtime configuration of the hotpatch binary.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration.
type Config struct {
	// TickInterval is the pause between ticks. Zero ticks as fast as possible.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxTicks stops the run after this many ticks. Zero runs until
	// interrupted.
	MaxTicks int `yaml:"max_ticks"`

	// Source is the devserver message source: "stdin", "file:<path>",
	// "unix:<path>", "tcp:<host:port>" or "none".
	Source string `yaml:"source"`

	// Ledger is the SQLite ledger path. Empty disables the ledger.
	Ledger string `yaml:"ledger"`

	// MetricsAddr serves /metrics on this address. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// Strict aborts on patches whose bodies are not call-compatible.
	Strict bool `yaml:"strict"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		TickInterval: 16 * time.Millisecond,
		Source:       "none",
		LogLevel:     "info",
	}
}

// Load reads a YAML configuration file over the defaults.
// Unknown keys are rejected so typos fail loudly.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.TickInterval < 0 {
		return fmt.Errorf("tick_interval must not be negative")
	}
	if c.MaxTicks < 0 {
		return fmt.Errorf("max_ticks must not be negative")
	}
	if !validSource(c.Source) {
		return fmt.Errorf("source %q: want stdin, none, file:<path>, unix:<path> or tcp:<host:port>", c.Source)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func validSource(s string) bool {
	switch s {
	case "", "none", "stdin":
		return true
	}
	kind, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return false
	}
	switch kind {
	case "file", "unix", "tcp":
		return true
	}
	return false
}

// HasSource reports whether a devserver source is configured.
func (c Config) HasSource() bool {
	return c.Source != "" && c.Source != "none"
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level %q: want debug, info, warn or error", s)
}
