// Package config loads and validates the service configuration from file,
// environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/devhw/tgcdn/internal/bytesize"
	"github.com/devhw/tgcdn/pkg/api"
	"github.com/devhw/tgcdn/pkg/kv"
	"github.com/devhw/tgcdn/pkg/store"
	"github.com/devhw/tgcdn/pkg/sweeper"
)

// Config is the full service configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (TGCDN_*, plus the legacy unprefixed names)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Database configures the relational store holding the queue, the
	// indexed files and the L2 URL cache.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Cache configures the Redis connection used as L1 URL cache.
	Cache kv.Config `mapstructure:"cache" yaml:"cache"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the public HTTP server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Telegram contains the upstream credentials and destination chat.
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`

	// Pipeline contains worker pool and staging settings.
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`

	// Sweeper contains reconciliation sweep timing.
	Sweeper sweeper.Config `mapstructure:"sweeper" yaml:"sweeper"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures Prometheus metrics collection. The scrape
// endpoint is served on the public HTTP server at /metrics when enabled.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TelegramConfig contains the upstream credentials.
//
// Tokens is a comma-separated list; one worker is started per token.
// The legacy environment names SENDBOT_TOKENS and SENDBOT_CHAT_ID are
// honored for compatibility with existing deployments.
type TelegramConfig struct {
	// ChatID is the destination chat for uploaded documents.
	ChatID int64 `mapstructure:"chat_id" validate:"required" yaml:"chat_id"`

	// Tokens is the comma-separated bot token list.
	Tokens string `mapstructure:"tokens" validate:"required" yaml:"tokens"`
}

// TokenList splits Tokens on commas, trimming whitespace and dropping
// empty entries.
func (c *TelegramConfig) TokenList() []string {
	var tokens []string
	for _, t := range strings.Split(c.Tokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// PipelineConfig contains worker pool and staging settings.
type PipelineConfig struct {
	// TempDir is the staging directory shared by the ingest endpoint and
	// the workers.
	// Default: /tmp/tg_img_cdn
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`

	// BatchSize is how many jobs one worker claims per poll.
	// Default: 10
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// PollInterval is how long an idle worker sleeps between polls.
	// Default: 5s
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// OffloadCapacity bounds the deferred cache-warm queue.
	// Default: 256
	OffloadCapacity int `mapstructure:"offload_capacity" yaml:"offload_capacity"`

	// MaxUpload is the hard cap on accepted payload sizes.
	// Supports human-readable formats: "20Mi", "5MB", or plain byte counts.
	// Default: 20Mi
	MaxUpload bytesize.ByteSize `mapstructure:"max_upload" yaml:"max_upload"`
}

// Load loads configuration from file, environment, and defaults.
//
// A missing config file is not an error: pure environment-driven
// deployments are the common case in containers.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file carries bot tokens and database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures environment variable support and the config file
// search path.
func setupViper(v *viper.Viper, configPath string) {
	// Example: TGCDN_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("TGCDN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings: the prefixed form first, then the legacy names
	// existing deployments already export.
	v.BindEnv("telegram.chat_id", "TGCDN_TELEGRAM_CHAT_ID", "SENDBOT_CHAT_ID")
	v.BindEnv("telegram.tokens", "TGCDN_TELEGRAM_TOKENS", "SENDBOT_TOKENS")
	v.BindEnv("database.mysql.user", "TGCDN_DATABASE_MYSQL_USER", "DB_USER")
	v.BindEnv("database.mysql.password", "TGCDN_DATABASE_MYSQL_PASSWORD", "DB_PASSWORD")
	v.BindEnv("database.mysql.host", "TGCDN_DATABASE_MYSQL_HOST", "DB_HOST")
	v.BindEnv("database.mysql.port", "TGCDN_DATABASE_MYSQL_PORT", "DB_PORT")
	v.BindEnv("database.mysql.database", "TGCDN_DATABASE_MYSQL_DATABASE", "DB_DATABASE")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings like "20Mi" or "5MB" and plain
// numbers to bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tgcdn")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "tgcdn")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
