package config

import "fmt"

// WindowLimits configures request thresholds per time window.
// A nil field means the window is not limited. A configured value of zero
// or below denies every request, which is useful for hard-disabling a
// profile without removing it.
type WindowLimits struct {
	PerMinute *int64 `yaml:"per_minute,omitempty"`
	PerHour   *int64 `yaml:"per_hour,omitempty"`
	PerDay    *int64 `yaml:"per_day,omitempty"`
}

// RateLimitConfig defines admission thresholds for generation requests.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Global applies across all clients combined.
	Global WindowLimits `yaml:"global,omitempty"`

	// Profiles maps a billing profile to its per-client limits.
	Profiles map[string]WindowLimits `yaml:"profiles,omitempty"`
}

// IsEnabled returns true if rate limiting is active.
func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && BoolValue(c.Enabled, true)
}

// SetDefaults applies the stock anonymous/api_key profiles when none are
// configured.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if len(c.Profiles) == 0 {
		c.Profiles = map[string]WindowLimits{
			"anonymous": {PerMinute: int64Ptr(1), PerHour: int64Ptr(3), PerDay: int64Ptr(20)},
			"api_key":   {PerMinute: int64Ptr(5), PerHour: int64Ptr(50), PerDay: int64Ptr(200)},
		}
	}
	if c.Global.PerMinute == nil && c.Global.PerHour == nil && c.Global.PerDay == nil {
		c.Global = WindowLimits{
			PerMinute: int64Ptr(30),
			PerHour:   int64Ptr(300),
			PerDay:    int64Ptr(2000),
		}
	}
}

// Validate checks the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("profiles is required when rate limiting is enabled")
	}
	return nil
}

// ProfileLimits returns the limits for a profile, falling back to the
// anonymous profile for unknown names.
func (c *RateLimitConfig) ProfileLimits(profile string) WindowLimits {
	if limits, ok := c.Profiles[profile]; ok {
		return limits
	}
	return c.Profiles["anonymous"]
}

func int64Ptr(v int64) *int64 {
	return &v
}
