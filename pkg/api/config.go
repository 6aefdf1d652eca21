package api

import "time"

// APIConfig configures the public HTTP server.
//
// The server carries both the ingest endpoint (multipart uploads) and the
// content endpoint (long-lived passthrough streams), so the write timeout
// defaults to zero: a slow client downloading a large image must not have
// its response killed mid-stream.
type APIConfig struct {
	// Port is the HTTP port for the public endpoints.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. Uploads are capped at 20 MiB, so a minute is
	// generous even on slow links.
	// Default: 60s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Zero means no timeout; content streams need this.
	// Default: 0 (disabled)
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *APIConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
