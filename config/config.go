// Package config loads engine configuration from environment variables,
// an optional config file, and defaults, via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every configuration section consumed by the engine.
type Config struct {
	Logging           LoggingConfig           `mapstructure:"logging"`
	BackgroundProcess BackgroundProcessConfig `mapstructure:"background_process"`
	MaxNestingLevel   int                     `mapstructure:"max_nesting_level"`
	Bootstrap         BootstrapConfig         `mapstructure:"bootstrap"`
	RateLimiter       RateLimiterConfig       `mapstructure:"rate_limiter"`
	Supervisor        SupervisorConfig        `mapstructure:"supervisor"`
	StatusStore       StatusStoreConfig       `mapstructure:"status_store"`
}

// LoggingConfig controls the engine's Logger construction.
type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
}

// BackgroundProcessConfig controls fire-and-forget spawn policy.
type BackgroundProcessConfig struct {
	MemoryLimit         string `mapstructure:"memory_limit"`
	SpawnLimitPerSecond int    `mapstructure:"spawn_limit_per_second"`
}

// BootstrapConfig carries the host's optional framework bootstrap.
type BootstrapConfig struct {
	File     string `mapstructure:"file"`
	InitCode string `mapstructure:"init_code"`
}

// RateLimiterConfig selects and configures the spawn rate limiter backend.
type RateLimiterConfig struct {
	Backend        string `mapstructure:"backend"` // "memory" or "redis"
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
}

// SupervisorConfig controls the optional memory/CPU enforcement loop.
type SupervisorConfig struct {
	EnforceHardLimits bool `mapstructure:"enforce_hard_limits"`
	MaxCPUPercent     int  `mapstructure:"max_cpu_percent"`
	CheckIntervalMS   int  `mapstructure:"check_interval_ms"`
}

// StatusStoreConfig controls the status directory and its optional watcher.
type StatusStoreConfig struct {
	Directory    string `mapstructure:"directory"`
	WatchEnabled bool   `mapstructure:"watch_enabled"`
}

// Load reads configuration from environment variables (prefix PARALLEL_),
// an optional ./config.yaml or /etc/parallel/config.yaml, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is like Load but adds configPath to viper's search path.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PARALLEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/parallel/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("parallel/config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parallel/config: unmarshaling config: %w", err)
	}

	if cfg.MaxNestingLevel < 1 {
		cfg.MaxNestingLevel = 1
	}
	if cfg.MaxNestingLevel > 10 {
		cfg.MaxNestingLevel = 10
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", defaultLogDirectory())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())

	v.SetDefault("background_process.memory_limit", "512M")
	v.SetDefault("background_process.spawn_limit_per_second", 50)

	v.SetDefault("max_nesting_level", 5)

	v.SetDefault("bootstrap.file", "")
	v.SetDefault("bootstrap.init_code", "")

	v.SetDefault("rate_limiter.backend", "memory")
	v.SetDefault("rate_limiter.redis_addr", "localhost:6379")
	v.SetDefault("rate_limiter.redis_key_prefix", "parallel:ratelimit:")

	v.SetDefault("supervisor.enforce_hard_limits", false)
	v.SetDefault("supervisor.max_cpu_percent", 0)
	v.SetDefault("supervisor.check_interval_ms", 5000)

	v.SetDefault("status_store.directory", defaultStatusDirectory())
	v.SetDefault("status_store.watch_enabled", false)
}

func defaultLogDirectory() string {
	return filepath.Join(os.TempDir(), "parallel_logs")
}

func defaultStatusDirectory() string {
	return filepath.Join(os.TempDir(), "parallel_status")
}

// detectDefaultLogFormat mirrors logging.detectFormat's heuristic so a
// config-driven logger and the package-default logger agree absent an
// explicit override.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("PARALLEL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	if runtime.GOOS == "windows" {
		return "console"
	}
	return "console"
}
