// Package config loads runtime settings for the circle command from the
// environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"

	"github.com/signalsfoundry/social-orbit/internal/logging"
	"github.com/signalsfoundry/social-orbit/internal/observability"
)

// Config holds all configuration for the circle command.
type Config struct {
	// Logging
	LogLevel   string `env:"CIRCLE_LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"CIRCLE_LOG_FORMAT" envDefault:"text"`
	LogBackend string `env:"CIRCLE_LOG_BACKEND" envDefault:"slog"`

	// Seed for default angles; 0 picks a time-based seed.
	Seed uint64 `env:"CIRCLE_SEED" envDefault:"0"`

	// MetricsDump prints the orbit metrics after the command has run.
	MetricsDump bool `env:"CIRCLE_METRICS_DUMP" envDefault:"false"`

	Tracing TracingConfig
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `env:"CIRCLE_TRACING_ENABLED" envDefault:"false"`
	Exporter    string  `env:"CIRCLE_TRACING_EXPORTER" envDefault:"stdout"`
	ServiceName string  `env:"CIRCLE_TRACING_SERVICE_NAME" envDefault:"social-orbit"`
	Endpoint    string  `env:"CIRCLE_OTLP_ENDPOINT"`
	SampleRatio float64 `env:"CIRCLE_TRACING_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}
	switch strings.ToLower(c.LogBackend) {
	case "slog", "zap":
	default:
		return fmt.Errorf("invalid log backend: %s (must be slog or zap)", c.LogBackend)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "stdout", "otlp", "otlpgrpc":
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.Tracing.Exporter)
	}
	return nil
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		Backend: c.LogBackend,
	}
}

// TracingSettings returns the observability tracing configuration.
func (c *Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
