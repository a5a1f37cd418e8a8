package config

import (
	"time"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/engine"
)

// Profile describes one login target and how to drive it. It is decoded from
// the top-level "profile" field of a CUE file.
type Profile struct {
	// Name identifies the profile in logs and the attempt store.
	Name string `json:"name" validate:"required"`

	// Target is the application URL to log in to.
	Target string `json:"target" validate:"required,url"`

	// InteractiveDomains lists host suffixes that need interactive login. An
	// empty list treats every host as interactive.
	InteractiveDomains []string `json:"interactive_domains,omitempty" validate:"dive,required"`

	// OneTimeCodeAttempts bounds the one-time code loop.
	OneTimeCodeAttempts int `json:"otc_attempts,omitempty" validate:"gte=0,lte=10"`

	// PollInterval is the delay between condition evaluations.
	PollInterval string `json:"poll_interval,omitempty" validate:"omitempty,duration"`

	Timeouts TimeoutsConfig `json:"timeouts,omitempty"`

	// Selectors override the default login page locators by field.
	Selectors auth.Selectors `json:"selectors,omitempty"`

	// BusyIndicator is a locator visible while the application is working.
	// Ignored when Browser.BusyScript is set.
	BusyIndicator *engine.Locator `json:"busy_indicator,omitempty"`

	Browser   BrowserConfig   `json:"browser,omitempty"`
	Store     StoreConfig     `json:"store,omitempty"`
	Policy    PolicyConfig    `json:"policy,omitempty"`
	Redirect  RedirectConfig  `json:"redirect,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// TimeoutsConfig holds duration strings such as "30s" or "1m30s".
type TimeoutsConfig struct {
	Wait           string `json:"wait,omitempty" validate:"omitempty,duration"`
	Probe          string `json:"probe,omitempty" validate:"omitempty,duration"`
	Verify         string `json:"verify,omitempty" validate:"omitempty,duration"`
	VerifyAttempts int    `json:"verify_attempts,omitempty" validate:"gte=0"`
	Barrier        string `json:"barrier,omitempty" validate:"omitempty,duration"`
	Username       string `json:"username,omitempty" validate:"omitempty,duration"`
	MainPage       string `json:"main_page,omitempty" validate:"omitempty,duration"`
}

// BrowserConfig selects how the browser is reached.
type BrowserConfig struct {
	// RemoteURL is a DevTools websocket or http endpoint of a running browser.
	// When empty a local browser is launched.
	RemoteURL string `json:"remote_url,omitempty" validate:"omitempty,url"`

	Headless bool   `json:"headless,omitempty"`
	ExecPath string `json:"exec_path,omitempty"`

	// BusyScript is a JavaScript expression that is true while the
	// application is busy.
	BusyScript string `json:"busy_script,omitempty"`

	// Tunnel forwards the DevTools port of a browser on a remote host.
	Tunnel *TunnelConfig `json:"tunnel,omitempty"`
}

// TunnelConfig describes an SSH port forward to a remote DevTools endpoint.
type TunnelConfig struct {
	Host           string `json:"host" validate:"required"`
	Port           int    `json:"port,omitempty" validate:"gte=0,lte=65535"`
	User           string `json:"user" validate:"required"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	KnownHostsPath string `json:"known_hosts_path,omitempty"`
	RemotePort     int    `json:"remote_port" validate:"required,gt=0,lte=65535"`
}

// StoreConfig locates the login attempt store.
type StoreConfig struct {
	Path string `json:"path,omitempty"`
}

// PolicyConfig locates Rego host policies.
type PolicyConfig struct {
	Paths []string `json:"paths,omitempty"`
	Watch bool     `json:"watch,omitempty"`
}

// RedirectConfig points at a Starlark script that performs delegated SSO in
// place of the password step.
type RedirectConfig struct {
	Script string `json:"script,omitempty"`
}

// TelemetryConfig is the subset of telemetry settings exposed in profiles.
type TelemetryConfig struct {
	LogLevel        string  `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat       string  `json:"log_format,omitempty" validate:"omitempty,oneof=console json"`
	MetricsListen   string  `json:"metrics_listen,omitempty"`
	TraceExporter   string  `json:"trace_exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	TraceEndpoint   string  `json:"trace_endpoint,omitempty"`
	TraceSampleRate float64 `json:"trace_sample_rate,omitempty" validate:"gte=0,lte=1"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "profile.timeouts.wait").
	Path string `json:"path,omitempty"`

	Message string `json:"message"`
}

// LoadedProfile is the result of loading profile sources.
type LoadedProfile struct {
	Profile     *Profile          `json:"profile,omitempty"`
	SourceFiles []string          `json:"source_files"`
	LoadedAt    time.Time         `json:"loaded_at"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

// Valid reports whether the profile loaded without errors.
func (lp *LoadedProfile) Valid() bool {
	return lp.Profile != nil && len(lp.Errors) == 0
}
