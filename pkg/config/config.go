package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the factoid service.
type Config struct {
	Server      ServerConfig               `yaml:"server"`
	Redis       *RedisConfig               `yaml:"redis,omitempty"`
	RateLimits  RateLimitConfig            `yaml:"rate_limits"`
	Budgets     BudgetConfig               `yaml:"budgets"`
	OpenRouter  OpenRouterConfig           `yaml:"openrouter"`
	Databases   map[string]*DatabaseConfig `yaml:"databases,omitempty"`
	Records     RecordsConfig              `yaml:"records"`
	Telemetry   TelemetryConfig            `yaml:"telemetry"`
	Logger      LoggerConfig               `yaml:"logger"`
}

// RecordsConfig selects where generated factoids are persisted.
type RecordsConfig struct {
	// Backend is "memory" or "sql".
	Backend string `yaml:"backend,omitempty"`

	// Database references an entry in the databases section when backend is "sql".
	Database string `yaml:"database,omitempty"`
}

// LoggerConfig controls process-wide logging.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Parse decodes YAML bytes into a Config, applies defaults, and validates.
// Environment references of the form ${VAR} and ${VAR:-default} are expanded
// before decoding.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvBytes(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a runnable configuration without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.RateLimits.SetDefaults()
	c.Budgets.SetDefaults()
	c.OpenRouter.SetDefaults()
	c.Telemetry.SetDefaults()

	if c.Records.Backend == "" {
		c.Records.Backend = "memory"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}

	for _, db := range c.Databases {
		if db != nil {
			db.SetDefaults()
		}
	}
	if c.Redis != nil {
		c.Redis.SetDefaults()
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if err := c.Budgets.Validate(); err != nil {
		return fmt.Errorf("budgets: %w", err)
	}
	if err := c.OpenRouter.Validate(); err != nil {
		return fmt.Errorf("openrouter: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	switch c.Records.Backend {
	case "memory":
	case "sql":
		if c.Records.Database == "" {
			return fmt.Errorf("records.backend 'sql' requires 'database' reference")
		}
		if _, ok := c.GetDatabase(c.Records.Database); !ok {
			return fmt.Errorf("records.database %q not found in databases section", c.Records.Database)
		}
	default:
		return fmt.Errorf("invalid records.backend %q (valid: memory, sql)", c.Records.Backend)
	}

	for name, db := range c.Databases {
		if db == nil {
			return fmt.Errorf("database %q is empty", name)
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("database %q: %w", name, err)
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	return nil
}

// GetDatabase returns the named database config.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue dereferences a bool pointer with a fallback.
func BoolValue(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}
