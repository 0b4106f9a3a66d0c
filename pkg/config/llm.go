package config

import (
	"fmt"
	"time"
)

// OpenRouterConfig holds settings for the upstream model API.
type OpenRouterConfig struct {
	// APIKey authenticates against OpenRouter. When empty the service
	// serves stub factoids, which keeps local development unblocked.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL of the OpenRouter API.
	BaseURL string `yaml:"base_url,omitempty"`

	// Model is the default model key used when the request has no override.
	Model string `yaml:"model,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens caps the completion length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout in seconds for the upstream call.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries for retryable upstream failures.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelay in seconds between retries.
	RetryDelay int `yaml:"retry_delay,omitempty"`

	// PricePer1KTokens is the assumed blended USD price per 1000 tokens,
	// used for the pre-call cost estimate when the catalog has no price.
	PricePer1KTokens float64 `yaml:"price_per_1k_tokens,omitempty"`

	// CatalogTTL bounds how long the model catalog is cached.
	CatalogTTL time.Duration `yaml:"catalog_ttl,omitempty"`
}

// SetDefaults applies default values.
func (c *OpenRouterConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Model == "" {
		c.Model = "openai/gpt-4o-mini"
	}
	if c.Temperature == nil {
		t := 0.9
		c.Temperature = &t
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 500
	}
	if c.Timeout == 0 {
		c.Timeout = 45
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
	if c.PricePer1KTokens == 0 {
		c.PricePer1KTokens = 0.01
	}
	if c.CatalogTTL == 0 {
		c.CatalogTTL = 10 * time.Minute
	}
}

// Validate checks the upstream settings.
func (c *OpenRouterConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}
