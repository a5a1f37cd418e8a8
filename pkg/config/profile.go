package config

import (
	"net/url"
	"time"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/telemetry"
)

// duration parses a validated duration string; empty means zero so the
// consumer falls back to its default.
func duration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// TargetURL parses Target.
func (p *Profile) TargetURL() (*url.URL, error) {
	u, err := url.Parse(p.Target)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid profile target", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, engine.NewConfigurationError("profile target must be an absolute URL", nil)
	}
	return u, nil
}

// Interval returns the configured poll interval or the engine default.
func (p *Profile) Interval() time.Duration {
	if d := duration(p.PollInterval); d > 0 {
		return d
	}
	return engine.DefaultPollInterval
}

// EngineTimeouts converts the timeouts section. Zero fields take the engine
// defaults when the Interactor is built.
func (p *Profile) EngineTimeouts() engine.Timeouts {
	return engine.Timeouts{
		Wait:           duration(p.Timeouts.Wait),
		Probe:          duration(p.Timeouts.Probe),
		Verify:         duration(p.Timeouts.Verify),
		VerifyAttempts: p.Timeouts.VerifyAttempts,
		Barrier:        duration(p.Timeouts.Barrier),
	}
}

// AuthConfig converts the profile into a login flow configuration. Selectors
// not set in the profile keep their defaults.
func (p *Profile) AuthConfig() auth.Config {
	return auth.Config{
		Selectors:           p.Selectors,
		OneTimeCodeAttempts: p.OneTimeCodeAttempts,
		UsernameTimeout:     duration(p.Timeouts.Username),
		ProbeTimeout:        duration(p.Timeouts.Probe),
		MainPageTimeout:     duration(p.Timeouts.MainPage),
	}
}

// DomainPolicy returns the allow-list built from InteractiveDomains.
func (p *Profile) DomainPolicy() auth.DomainAllowList {
	return auth.DomainAllowList(p.InteractiveDomains)
}

// TelemetryConfig overlays the profile's telemetry settings on the defaults.
func (p *Profile) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version

	t := p.Telemetry
	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}
	if t.MetricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = t.MetricsListen
	}
	if t.TraceExporter != "" && t.TraceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = t.TraceExporter
		cfg.Tracing.Endpoint = t.TraceEndpoint
		if t.TraceSampleRate > 0 {
			cfg.Tracing.SamplingRate = t.TraceSampleRate
		}
	}
	return cfg
}
