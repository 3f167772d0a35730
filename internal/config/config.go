// Package config provides the configuration schema and loading for
// Superego. Configuration comes from superego.yaml, environment variables
// with the SUPEREGO_ prefix, and CLI flags, in ascending precedence.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info"; dev_mode lowers it to "debug" unless set explicitly.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// RulesFile is the path to the YAML security rules file.
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file" validate:"required"`

	// Server configures the HTTP/WebSocket listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Advisor configures the AI advisor consulted for sample rules.
	Advisor AdvisorConfig `yaml:"advisor" mapstructure:"advisor"`

	// Audit configures where decision audit entries are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Watch configures hot reload of the rules file.
	Watch WatchConfig `yaml:"watch" mapstructure:"watch"`

	// DevMode enables development features (debug logging, stdout trace
	// exporter).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener. Stdio transport needs no
// configuration; it owns stdin/stdout unconditionally.
type ServerConfig struct {
	// Host is the bind address. Defaults to "127.0.0.1" (localhost only);
	// set "0.0.0.0" explicitly to accept network traffic.
	Host string `yaml:"host" mapstructure:"host"`

	// Port is the listen port. Defaults to 8338.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// ListenAddr renders the host:port pair for net.Listen.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AdvisorConfig configures the AI advisor path.
type AdvisorConfig struct {
	// Provider selects the advisor backend. "anthropic" needs
	// ANTHROPIC_API_KEY in the environment; "mock" answers deterministic
	// verdicts for development and tests.
	Provider string `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=anthropic mock"`

	// Model is the provider model identifier.
	Model string `yaml:"model" mapstructure:"model"`

	// TimeoutMs bounds a single advisor consultation in milliseconds.
	// Defaults to 10000.
	TimeoutMs int `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1"`

	// SampleFailureMode decides sampled requests when the advisor cannot
	// answer: "deny" (default) or "allow".
	SampleFailureMode string `yaml:"sample_failure_mode" mapstructure:"sample_failure_mode" validate:"omitempty,oneof=deny allow"`

	// MaxConcurrent caps in-flight advisor calls. Defaults to 32.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"omitempty,min=1"`

	// MaxQueue caps callers waiting for an advisor slot; beyond it the
	// fail mode applies immediately. Defaults to 64.
	MaxQueue int `yaml:"max_queue" mapstructure:"max_queue" validate:"omitempty,min=0"`

	// RetryAttempts is how many times a transient advisor failure is
	// retried before the fail mode applies. Defaults to 2.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts" validate:"omitempty,min=0"`

	// Breaker configures the advisor circuit breaker.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Cache configures the advisor verdict cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`
}

// Timeout returns TimeoutMs as a duration.
func (a AdvisorConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// BreakerConfig bounds the advisor circuit breaker.
type BreakerConfig struct {
	// OpenThreshold is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	OpenThreshold int `yaml:"open_threshold" mapstructure:"open_threshold" validate:"omitempty,min=1"`

	// CooldownS is how long the breaker stays open before probing, in
	// seconds. Defaults to 30.
	CooldownS int `yaml:"cooldown_s" mapstructure:"cooldown_s" validate:"omitempty,min=1"`
}

// Cooldown returns CooldownS as a duration.
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownS) * time.Second
}

// CacheConfig bounds the advisor verdict cache.
type CacheConfig struct {
	// Size is the maximum number of cached verdicts. Defaults to 1024.
	Size int `yaml:"size" mapstructure:"size" validate:"omitempty,min=1"`

	// TTLS is the verdict time-to-live in seconds. Defaults to 300.
	TTLS int `yaml:"ttl_s" mapstructure:"ttl_s" validate:"omitempty,min=1"`
}

// TTL returns TTLS as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLS) * time.Second
}

// AuditConfig configures the audit sink.
type AuditConfig struct {
	// Output selects the sink backend:
	//
	//	stderr               JSON lines to stderr (default)
	//	file://<abs path>    rotating JSON lines under the given directory
	//	sqlite://<abs path>  append-only SQLite database
	//	memory               bounded in-memory ring (tests/dev)
	//
	// Stdout is never an option: the MCP stdio transport owns it.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// RetentionDays is how long file and sqlite sinks keep entries.
	// Defaults to 30.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`
}

// WatchConfig configures rules-file hot reload.
type WatchConfig struct {
	// PollIntervalMs is the mtime polling fallback interval in
	// milliseconds. Defaults to 1000; 0 disables polling.
	PollIntervalMs int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms" validate:"omitempty,min=0"`

	// DebounceMs is how long changes must settle before a reload fires,
	// in milliseconds. Defaults to 250.
	DebounceMs int `yaml:"debounce_ms" mapstructure:"debounce_ms" validate:"omitempty,min=1"`
}

// PollInterval returns PollIntervalMs as a duration.
func (w WatchConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// Debounce returns DebounceMs as a duration.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RulesFile == "" {
		c.RulesFile = "./rules.yaml"
	}

	// Server defaults: localhost only unless explicitly widened.
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8338
	}

	// Advisor defaults.
	if c.Advisor.Provider == "" {
		c.Advisor.Provider = "anthropic"
	}
	if c.Advisor.Model == "" {
		c.Advisor.Model = "claude-sonnet-4-5"
	}
	if c.Advisor.TimeoutMs == 0 {
		c.Advisor.TimeoutMs = 10000
	}
	if c.Advisor.SampleFailureMode == "" {
		c.Advisor.SampleFailureMode = "deny"
	}
	if c.Advisor.MaxConcurrent == 0 {
		c.Advisor.MaxConcurrent = 32
	}
	if c.Advisor.MaxQueue == 0 && !viper.IsSet("advisor.max_queue") {
		c.Advisor.MaxQueue = 64
	}
	if c.Advisor.RetryAttempts == 0 && !viper.IsSet("advisor.retry_attempts") {
		c.Advisor.RetryAttempts = 2
	}
	if c.Advisor.Breaker.OpenThreshold == 0 {
		c.Advisor.Breaker.OpenThreshold = 5
	}
	if c.Advisor.Breaker.CooldownS == 0 {
		c.Advisor.Breaker.CooldownS = 30
	}
	if c.Advisor.Cache.Size == 0 {
		c.Advisor.Cache.Size = 1024
	}
	if c.Advisor.Cache.TTLS == 0 {
		c.Advisor.Cache.TTLS = 300
	}

	// Audit defaults: stderr keeps stdout clean for the MCP transport.
	if c.Audit.Output == "" {
		c.Audit.Output = "stderr"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}

	// Watch defaults.
	if c.Watch.PollIntervalMs == 0 && !viper.IsSet("watch.poll_interval_ms") {
		c.Watch.PollIntervalMs = 1000
	}
	if c.Watch.DebounceMs == 0 {
		c.Watch.DebounceMs = 250
	}
}

// SetDevDefaults applies development-mode overrides. Called after
// SetDefaults and any CLI flag overrides, before validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// Verbose logging unless the level was set explicitly.
	if !viper.IsSet("log_level") {
		c.LogLevel = "debug"
	}

	// The mock advisor answers without credentials.
	if !viper.IsSet("advisor.provider") {
		c.Advisor.Provider = "mock"
	}
}

// SlogLevel maps LogLevel onto a slog.Level. Unknown values fall back to
// info; Validate rejects them earlier in normal startup.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
