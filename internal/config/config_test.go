package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.RulesFile != "./rules.yaml" {
		t.Errorf("RulesFile = %q", cfg.RulesFile)
	}
	if got := cfg.Server.ListenAddr(); got != "127.0.0.1:8338" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:8338", got)
	}
	if cfg.Advisor.Provider != "anthropic" {
		t.Errorf("Advisor.Provider = %q", cfg.Advisor.Provider)
	}
	if cfg.Advisor.TimeoutMs != 10000 {
		t.Errorf("Advisor.TimeoutMs = %d, want 10000", cfg.Advisor.TimeoutMs)
	}
	if cfg.Advisor.SampleFailureMode != "deny" {
		t.Errorf("SampleFailureMode = %q, want deny", cfg.Advisor.SampleFailureMode)
	}
	if cfg.Advisor.MaxConcurrent != 32 || cfg.Advisor.MaxQueue != 64 {
		t.Errorf("concurrency defaults = %d/%d, want 32/64", cfg.Advisor.MaxConcurrent, cfg.Advisor.MaxQueue)
	}
	if cfg.Advisor.RetryAttempts != 2 {
		t.Errorf("RetryAttempts = %d, want 2", cfg.Advisor.RetryAttempts)
	}
	if cfg.Advisor.Breaker.OpenThreshold != 5 || cfg.Advisor.Breaker.CooldownS != 30 {
		t.Errorf("breaker defaults = %d/%d, want 5/30", cfg.Advisor.Breaker.OpenThreshold, cfg.Advisor.Breaker.CooldownS)
	}
	if cfg.Advisor.Cache.Size != 1024 || cfg.Advisor.Cache.TTLS != 300 {
		t.Errorf("cache defaults = %d/%d, want 1024/300", cfg.Advisor.Cache.Size, cfg.Advisor.Cache.TTLS)
	}
	if cfg.Audit.Output != "stderr" {
		t.Errorf("Audit.Output = %q, want stderr", cfg.Audit.Output)
	}
	if cfg.Audit.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.Audit.RetentionDays)
	}
	if cfg.Watch.PollIntervalMs != 1000 || cfg.Watch.DebounceMs != 250 {
		t.Errorf("watch defaults = %d/%d, want 1000/250", cfg.Watch.PollIntervalMs, cfg.Watch.DebounceMs)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		LogLevel:  "error",
		RulesFile: "/etc/superego/rules.yaml",
		Server:    ServerConfig{Host: "0.0.0.0", Port: 9000},
		Advisor:   AdvisorConfig{Provider: "mock", TimeoutMs: 500},
		Audit:     AuditConfig{Output: "memory"},
	}
	cfg.SetDefaults()

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error", cfg.LogLevel)
	}
	if cfg.RulesFile != "/etc/superego/rules.yaml" {
		t.Errorf("RulesFile = %q", cfg.RulesFile)
	}
	if got := cfg.Server.ListenAddr(); got != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", got)
	}
	if cfg.Advisor.Provider != "mock" || cfg.Advisor.TimeoutMs != 500 {
		t.Errorf("advisor = %q/%d", cfg.Advisor.Provider, cfg.Advisor.TimeoutMs)
	}
	if cfg.Audit.Output != "memory" {
		t.Errorf("Audit.Output = %q", cfg.Audit.Output)
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Advisor: AdvisorConfig{
			TimeoutMs: 1500,
			Breaker:   BreakerConfig{CooldownS: 45},
			Cache:     CacheConfig{TTLS: 60},
		},
		Watch: WatchConfig{PollIntervalMs: 2000, DebounceMs: 100},
	}

	if got := cfg.Advisor.Timeout(); got != 1500*time.Millisecond {
		t.Errorf("Timeout = %v", got)
	}
	if got := cfg.Advisor.Breaker.Cooldown(); got != 45*time.Second {
		t.Errorf("Cooldown = %v", got)
	}
	if got := cfg.Advisor.Cache.TTL(); got != time.Minute {
		t.Errorf("TTL = %v", got)
	}
	if got := cfg.Watch.PollInterval(); got != 2*time.Second {
		t.Errorf("PollInterval = %v", got)
	}
	if got := cfg.Watch.Debounce(); got != 100*time.Millisecond {
		t.Errorf("Debounce = %v", got)
	}
}

func TestConfig_SlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("found %q in empty dir", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "superego.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := findConfigFileInPaths([]string{dir}); got != path {
		t.Errorf("found %q, want %q", got, path)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "superego.yml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := findConfigFileInPaths([]string{dir}); got != path {
		t.Errorf("found %q, want %q", got, path)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// A file named like the binary must not be matched.
	if err := os.WriteFile(filepath.Join(dir, "superego"), []byte{0x7f, 'E', 'L', 'F'}, 0o700); err != nil {
		t.Fatal(err)
	}

	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("matched extensionless file: %q", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yaml := filepath.Join(dir, "superego.yaml")
	yml := filepath.Join(dir, "superego.yml")
	for _, p := range []string{yaml, yml} {
		if err := os.WriteFile(p, []byte("log_level: info\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if got := findConfigFileInPaths([]string{dir}); got != yaml {
		t.Errorf("found %q, want %q", got, yaml)
	}
}
