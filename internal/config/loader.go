package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for superego.yaml/.yml in
// standard locations. The search requires an explicit YAML extension so the
// binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("superego")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SUPEREGO_ADVISOR_TIMEOUT_MS etc.
	viper.SetEnvPrefix("SUPEREGO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a superego config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".superego"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "superego"))
		}
	} else {
		paths = append(paths, "/etc/superego")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for superego.yaml
// or .yml. Returns the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "superego"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds config keys for environment variable support.
// Example: SUPEREGO_ADVISOR_TIMEOUT_MS overrides advisor.timeout_ms.
func bindNestedEnvKeys() {
	// Top-level keys.
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("rules_file")
	_ = viper.BindEnv("dev_mode")

	// Server.
	_ = viper.BindEnv("server.host")
	_ = viper.BindEnv("server.port")

	// Advisor. SUPEREGO_SAMPLE_FAILURE_MODE is a documented short alias
	// for the nested key.
	_ = viper.BindEnv("advisor.provider")
	_ = viper.BindEnv("advisor.model")
	_ = viper.BindEnv("advisor.timeout_ms")
	_ = viper.BindEnv("advisor.sample_failure_mode",
		"SUPEREGO_SAMPLE_FAILURE_MODE", "SUPEREGO_ADVISOR_SAMPLE_FAILURE_MODE")
	_ = viper.BindEnv("advisor.max_concurrent")
	_ = viper.BindEnv("advisor.max_queue")
	_ = viper.BindEnv("advisor.retry_attempts")
	_ = viper.BindEnv("advisor.breaker.open_threshold")
	_ = viper.BindEnv("advisor.breaker.cooldown_s")
	_ = viper.BindEnv("advisor.cache.size")
	_ = viper.BindEnv("advisor.cache.ttl_s")

	// Audit.
	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.retention_days")

	// Watch.
	_ = viper.BindEnv("watch.poll_interval_ms")
	_ = viper.BindEnv("watch.debounce_ms")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates. Callers that apply CLI flag overrides
// should use LoadConfigRaw and run SetDevDefaults/Validate themselves.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use this when CLI flags may
// override fields before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars and defaults.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or an
// empty string when running on env vars and defaults only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
