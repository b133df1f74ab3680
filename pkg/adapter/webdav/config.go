package webdav

import (
	"fmt"
	"time"
)

// Config holds configuration parameters for the WebDAV server.
//
// Default values (applied by New if zero):
//   - Port: 8090
//   - Prefix: "/dav"
//   - ReadTimeout: 5m
//   - WriteTimeout: 5m
//   - IdleTimeout: 2m
//   - ShutdownTimeout: 30s
//   - RateLimit.Burst: RateLimit.RequestsPerSecond
type Config struct {
	// Enabled controls whether the WebDAV adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Prefix is the URL path the WebDAV tree is mounted at.
	Prefix string `mapstructure:"prefix"`

	// JWTSecret verifies the HS256 bearer tokens presented by clients.
	// Required when the adapter is enabled.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required_if=Enabled true"`

	// RateLimit throttles requests per authenticated user.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// ReadTimeout bounds reading a complete request, body included.
	// Uploads of large files need a generous value.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes keep-alive connections idle for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Stop waits for in-flight requests.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// RateLimitConfig configures the per-user token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. 0 disables limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the bucket capacity.
	Burst uint `mapstructure:"burst"`
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8090
	}
	if c.Prefix == "" {
		c.Prefix = "/dav"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Prefix[0] != '/' {
		return fmt.Errorf("invalid prefix %q: must start with /", c.Prefix)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	return nil
}
