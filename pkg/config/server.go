package config

import (
	"fmt"
	"time"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind. Defaults to 0.0.0.0.
	Host string `yaml:"host,omitempty"`

	// Port to listen on.
	Port int `yaml:"port,omitempty"`

	// CORSAllowedOrigins lists origins allowed to call the API.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins,omitempty"`

	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// TrustProxyHeaders enables client IP extraction from X-Forwarded-For
	// and X-Real-IP. Enable only behind a trusted proxy.
	TrustProxyHeaders *bool `yaml:"trust_proxy_headers,omitempty"`

	// APIKeys maps opaque client API keys to billing profiles.
	APIKeys map[string]string `yaml:"api_keys,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 90 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.TrustProxyHeaders == nil {
		c.TrustProxyHeaders = BoolPtr(true)
	}
}

// Validate checks server settings.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be non-negative")
	}
	return nil
}

// Address returns the host:port bind address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
