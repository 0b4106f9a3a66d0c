package config

import (
	"fmt"
	"time"
)

// RedisConfig holds connection settings for the shared counter store.
// When absent, counters and the spend ledger run in-process only.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password for AUTH, if required.
	Password string `yaml:"password,omitempty"`

	// DB selects the logical database.
	DB int `yaml:"db,omitempty"`

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`

	// OpTimeout bounds each counter round trip. Operations that exceed it
	// fall back to the in-process store for that call.
	OpTimeout time.Duration `yaml:"op_timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *RedisConfig) SetDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 250 * time.Millisecond
	}
}

// Validate checks redis settings.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.OpTimeout < 0 {
		return fmt.Errorf("op_timeout must be non-negative")
	}
	return nil
}
