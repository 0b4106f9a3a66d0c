package config

import "fmt"

// TelemetryConfig assembles the optional side-effect sinks and tracing.
type TelemetryConfig struct {
	// Sinks lists the event sinks to notify: "log" and/or "prometheus".
	Sinks []string `yaml:"sinks,omitempty"`

	// Tracing configures OTLP trace export.
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	ServiceName  string  `yaml:"service_name,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`
}

// SetDefaults applies default values.
func (c *TelemetryConfig) SetDefaults() {
	if len(c.Sinks) == 0 {
		c.Sinks = []string{"log", "prometheus"}
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "factoid"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

// Validate checks the telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	for _, sink := range c.Sinks {
		switch sink {
		case "log", "prometheus":
		default:
			return fmt.Errorf("unknown sink %q (valid: log, prometheus)", sink)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}
