package config

import "fmt"

// BudgetConfig caps daily LLM spend per billing profile.
type BudgetConfig struct {
	// Enabled controls whether the cost guard is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Profiles maps a billing profile to its daily budget in USD.
	// A profile absent from the map has no budget.
	Profiles map[string]float64 `yaml:"profiles,omitempty"`

	// DefaultEstimate is the pre-call cost estimate in USD, used when the
	// prompt-based estimate is unavailable.
	DefaultEstimate float64 `yaml:"default_estimate,omitempty"`
}

// IsEnabled returns true if budget enforcement is active.
func (c *BudgetConfig) IsEnabled() bool {
	return c != nil && BoolValue(c.Enabled, true)
}

// SetDefaults applies the stock profile budgets.
func (c *BudgetConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if len(c.Profiles) == 0 {
		c.Profiles = map[string]float64{
			"anonymous": 1.00,
			"api_key":   5.00,
		}
	}
	if c.DefaultEstimate == 0 {
		c.DefaultEstimate = 0.10
	}
}

// Validate checks the budget configuration.
func (c *BudgetConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	for profile, budget := range c.Profiles {
		if budget < 0 {
			return fmt.Errorf("budget for profile %q must be non-negative, got %v", profile, budget)
		}
	}
	if c.DefaultEstimate < 0 {
		return fmt.Errorf("default_estimate must be non-negative")
	}
	return nil
}

// BudgetFor returns the daily budget for a profile and whether one is set.
func (c *BudgetConfig) BudgetFor(profile string) (float64, bool) {
	budget, ok := c.Profiles[profile]
	return budget, ok
}
