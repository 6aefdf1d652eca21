package config

import (
	"strings"
	"time"

	"github.com/devhw/tgcdn/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	cfg.Database.ApplyDefaults()
	cfg.Cache.ApplyDefaults()
	applyPipelineDefaults(&cfg.Pipeline)
	// Sweeper defaults are applied by sweeper.New; nothing to do here.
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyPipelineDefaults sets worker pool and staging defaults.
func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg.TempDir == "" {
		cfg.TempDir = "/tmp/tg_img_cdn"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.OffloadCapacity <= 0 {
		cfg.OffloadCapacity = 256
	}
	if cfg.MaxUpload == 0 {
		cfg.MaxUpload = 20 * bytesize.MiB
	}
}

// GetDefaultConfig returns a Config with all default values applied.
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
