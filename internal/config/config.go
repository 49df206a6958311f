// Package config provides configuration types and defaults for fanout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/fanout/internal/log"
	"github.com/zjrosen/fanout/internal/queue"
	"github.com/zjrosen/fanout/internal/tracing"
)

// Config holds all configuration options for fanout.
type Config struct {
	Bus     BusConfig      `mapstructure:"bus"`
	Log     LogConfig      `mapstructure:"log"`
	Tracing tracing.Config `mapstructure:"tracing"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Watch   WatchConfig    `mapstructure:"watch"`
	Ticker  TickerConfig   `mapstructure:"ticker"`
}

// BusConfig controls subjects and observer mailboxes.
type BusConfig struct {
	MailboxSize       int    `mapstructure:"mailbox_size"`       // 0 = unbounded
	Overflow          string `mapstructure:"overflow"`           // "drop-oldest" (default) or "drop-newest"
	DiagnosticsBuffer int    `mapstructure:"diagnostics_buffer"` // per-listener channel size
}

// LogConfig controls the debug log.
type LogConfig struct {
	Path  string `mapstructure:"path"`
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// WatchConfig controls `fanout watch`.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Patterns []string      `mapstructure:"patterns"` // base-name globs; empty matches everything
}

// TickerConfig controls `fanout demo ticker`.
type TickerConfig struct {
	Symbols  []string      `mapstructure:"symbols"`
	Start    float64       `mapstructure:"start"`
	High     float64       `mapstructure:"high"`
	Low      float64       `mapstructure:"low"`
	Ticks    int           `mapstructure:"ticks"`
	Interval time.Duration `mapstructure:"interval"`
	StateTTL time.Duration `mapstructure:"state_ttl"`
	Seed     uint64        `mapstructure:"seed"` // 0 picks a random seed
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Bus: BusConfig{
			MailboxSize:       queue.DefaultMaxSize,
			Overflow:          string(queue.DropOldest),
			DiagnosticsBuffer: 64,
		},
		Log: LogConfig{
			Path:  "debug.log",
			Level: "debug",
		},
		Tracing: tracing.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
		},
		Ticker: TickerConfig{
			Symbols:  []string{"ACME", "GLOBEX", "INITECH"},
			Start:    100,
			High:     110,
			Low:      90,
			Ticks:    20,
			Interval: 100 * time.Millisecond,
		},
	}
}

// Validate checks every section.
func Validate(cfg Config) error {
	if err := ValidateBus(cfg.Bus); err != nil {
		return err
	}
	if err := ValidateLog(cfg.Log); err != nil {
		return err
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	if err := ValidateMetrics(cfg.Metrics); err != nil {
		return err
	}
	if err := ValidateWatch(cfg.Watch); err != nil {
		return err
	}
	return ValidateTicker(cfg.Ticker)
}

// ValidateBus checks mailbox settings.
func ValidateBus(bus BusConfig) error {
	if bus.MailboxSize < 0 {
		return fmt.Errorf("bus.mailbox_size must be >= 0, got %d", bus.MailboxSize)
	}
	if _, err := queue.ParsePolicy(bus.Overflow); err != nil {
		return fmt.Errorf("bus.overflow: %w", err)
	}
	if bus.DiagnosticsBuffer < 0 {
		return fmt.Errorf("bus.diagnostics_buffer must be >= 0, got %d", bus.DiagnosticsBuffer)
	}
	return nil
}

// ValidateLog checks the log level.
func ValidateLog(l LogConfig) error {
	if l.Level == "" {
		return nil
	}
	if _, err := log.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if err := tracing.ValidateExporter(t.Exporter); err != nil {
		return fmt.Errorf("tracing.exporter: %w", err)
	}
	if t.Enabled && t.Exporter == "otlp" && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}
	return nil
}

// ValidateMetrics requires an address when the endpoint is enabled.
func ValidateMetrics(m MetricsConfig) error {
	if m.Enabled && m.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// ValidateWatch checks the debounce window and patterns.
func ValidateWatch(w WatchConfig) error {
	if w.Debounce < 0 {
		return fmt.Errorf("watch.debounce must be >= 0, got %s", w.Debounce)
	}
	for i, p := range w.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("watch.patterns[%d] %q: %w", i, p, err)
		}
	}
	return nil
}

// ValidateTicker checks the demo ticker settings.
func ValidateTicker(t TickerConfig) error {
	if t.Ticks < 0 {
		return fmt.Errorf("ticker.ticks must be >= 0, got %d", t.Ticks)
	}
	if t.Interval < 0 {
		return fmt.Errorf("ticker.interval must be >= 0, got %s", t.Interval)
	}
	if t.StateTTL < 0 {
		return fmt.Errorf("ticker.state_ttl must be >= 0, got %s", t.StateTTL)
	}
	if t.Low >= t.High {
		return fmt.Errorf("ticker.low (%v) must be below ticker.high (%v)", t.Low, t.High)
	}
	for i, s := range t.Symbols {
		if s == "" {
			return fmt.Errorf("ticker.symbols[%d]: symbol must not be empty", i)
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# fanout configuration

# Subjects and observer mailboxes
bus:
  mailbox_size: 256         # messages queued per observer; 0 = unbounded
  overflow: drop-oldest     # drop-oldest or drop-newest when a mailbox is full
  diagnostics_buffer: 64    # per-listener buffer for delivery failure events

# Debug log (enabled with --debug or FANOUT_DEBUG=1)
log:
  path: debug.log
  level: debug              # debug, info, warn, error

# OpenTelemetry tracing of publish and delivery
tracing:
  enabled: false
  exporter: file            # none, file, stdout, otlp
  # file_path: ~/.config/fanout/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0

# Prometheus metrics endpoint (also enabled by --metrics-addr)
metrics:
  enabled: false
  addr: 127.0.0.1:9464

# fanout watch
watch:
  debounce: 100ms
  # patterns: ["*.go", "*.yaml"]

# fanout demo ticker
ticker:
  symbols: [ACME, GLOBEX, INITECH]
  start: 100
  high: 110                 # alert when a price rises to or above this
  low: 90                   # alert when a price falls to or below this
  ticks: 20
  interval: 100ms
  # state_ttl: 1m           # forget prices not updated for this long
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
