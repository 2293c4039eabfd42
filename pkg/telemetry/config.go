package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config contains the telemetry configuration of the CLI.
type Config struct {
	// ServiceName is the name reported on traces and the metric namespace
	// default.
	ServiceName string `mapstructure:"service_name" validate:"required"`

	// ServiceVersion is the version of the binary.
	ServiceVersion string `mapstructure:"service_version" validate:"required"`

	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error"`

	// Format is console or json.
	Format string `mapstructure:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required"`

	// NoColor disables colors in console output.
	NoColor bool `mapstructure:"no_color"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `mapstructure:"enable_caller"`
}

// TracingConfig configures run tracing.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `mapstructure:"exporter" validate:"oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true Exporter otlp"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration `mapstructure:"export_timeout" validate:"gte=0"`

	// Headers are sent with every OTLP export.
	Headers map[string]string `mapstructure:"headers"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `mapstructure:"insecure"`
}

// MetricsConfig configures run metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace" validate:"required_if=Enabled true"`

	// TextfilePath, when set, receives the metrics in Prometheus text
	// format after each run, for the node exporter textfile collector.
	TextfilePath string `mapstructure:"textfile_path"`
}

// DefaultConfig returns the default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "froyo-mysql",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Headers:       make(map[string]string),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "froyo_mysql",
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
