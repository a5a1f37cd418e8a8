package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds logging, tracing and metrics settings for one pageflow run.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the zerolog sink.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string

	EnableCaller bool

	// TimeFormat is unix, unixms or rfc3339.
	TimeFormat string `validate:"omitempty,oneof=unix unixms rfc3339"`
}

// TracingConfig configures login spans. Endpoint is a host:port for the OTLP
// gRPC exporter.
type TracingConfig struct {
	Enabled      bool
	Exporter     string  `validate:"required_if=Enabled true,omitempty,oneof=otlp stdout none"`
	Endpoint     string  `validate:"required_if=Exporter otlp"`
	SamplingRate float64 `validate:"gte=0,lte=1"`

	ExportTimeout time.Duration `validate:"gte=0"`
	Headers       map[string]string
	Insecure      bool
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string `validate:"required_if=Enabled true"`
	Path          string `validate:"omitempty,startswith=/"`
	Namespace     string

	// DurationBuckets are histogram buckets in seconds for poll, barrier
	// and login durations.
	DurationBuckets []float64 `validate:"omitempty,dive,gt=0"`
}

// DefaultConfig returns the settings used when a profile says nothing.
// Tracing and the metrics endpoint are off; a login is usually a
// short-lived process.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pageflow",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			ListenAddress:   ":9090",
			Path:            "/metrics",
			Namespace:       "pageflow",
			DurationBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	}
}

var validate = validator.New()

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("invalid telemetry config: %s", strings.Join(msgs, "; "))
}
