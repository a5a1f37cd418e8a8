package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageflow/pageflow/pkg/engine"
)

const validProfile = `
profile: {
	name:   "crm-prod"
	target: "https://org.crm.dynamics.com/main.aspx?appid=42"
	interactive_domains: ["dynamics.com", ".crm4.dynamics.com"]
	otc_attempts:  4
	poll_interval: "100ms"
	timeouts: {
		wait:            "20s"
		probe:           "1500ms"
		verify_attempts: 5
		username:        "45s"
	}
	selectors: {
		username: {name: "email box", strategy: "css", query: "#i0116"}
	}
	busy_indicator: {strategy: "id", query: "progressIndicator"}
	browser: {
		headless: true
		tunnel: {host: "build01", user: "ci", remote_port: 9222}
	}
	store: path: "attempts.db"
	telemetry: {
		log_level:      "debug"
		metrics_listen: ":9100"
	}
}
`

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	return l
}

func TestLoader_LoadInline(t *testing.T) {
	l := newTestLoader(t)

	lp, err := l.LoadInline(context.Background(), validProfile)
	require.NoError(t, err)
	require.True(t, lp.Valid(), "errors: %v", lp.Errors)

	p := lp.Profile
	assert.Equal(t, "crm-prod", p.Name)
	assert.Equal(t, 4, p.OneTimeCodeAttempts)
	assert.Equal(t, 100*time.Millisecond, p.Interval())
	assert.Equal(t, "attempts.db", p.Store.Path)
	require.NotNil(t, p.Browser.Tunnel)
	assert.Equal(t, 9222, p.Browser.Tunnel.RemotePort)
	require.NotNil(t, p.BusyIndicator)
	assert.Equal(t, engine.ByID, p.BusyIndicator.Strategy)

	target, err := p.TargetURL()
	require.NoError(t, err)
	assert.Equal(t, "org.crm.dynamics.com", target.Hostname())

	timeouts := p.EngineTimeouts()
	assert.Equal(t, 20*time.Second, timeouts.Wait)
	assert.Equal(t, 1500*time.Millisecond, timeouts.Probe)
	assert.Equal(t, 5, timeouts.VerifyAttempts)
	assert.Zero(t, timeouts.Barrier)

	ac := p.AuthConfig()
	assert.Equal(t, 4, ac.OneTimeCodeAttempts)
	assert.Equal(t, 45*time.Second, ac.UsernameTimeout)
	assert.Equal(t, engine.ByCSS, ac.Selectors.Username.Strategy)
	assert.Equal(t, "#i0116", ac.Selectors.Username.Query)
	assert.True(t, ac.Selectors.Password.IsZero(), "unset selectors are filled by the flow")

	interactive, err := p.DomainPolicy().RequiresInteractiveAuth(context.Background(), "org.crm4.dynamics.com")
	require.NoError(t, err)
	assert.True(t, interactive)

	tc := p.TelemetryConfig("1.2.3")
	assert.Equal(t, "debug", tc.Logging.Level)
	assert.True(t, tc.Metrics.Enabled)
	assert.Equal(t, ":9100", tc.Metrics.ListenAddress)
	assert.False(t, tc.Tracing.Enabled)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
}

func TestLoader_RejectsInvalidProfiles(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantPath string
	}{
		{
			name:    "syntax error",
			content: "profile: {\n\tname: \"x\"\n\tinvalid syntax here\n}\n",
		},
		{
			name:     "missing profile",
			content:  `other: {name: "x"}`,
			wantPath: "profile",
		},
		{
			name:    "missing target",
			content: `profile: {name: "crm"}`,
		},
		{
			name:    "unknown field",
			content: `profile: {name: "crm", target: "https://a.example", colour: "blue"}`,
		},
		{
			name:    "bad duration",
			content: `profile: {name: "crm", target: "https://a.example", timeouts: wait: "soon"}`,
		},
		{
			name:    "otc attempts out of range",
			content: `profile: {name: "crm", target: "https://a.example", otc_attempts: 0}`,
		},
		{
			name:    "bad locator strategy",
			content: `profile: {name: "crm", target: "https://a.example", selectors: password: {strategy: "regex", query: "x"}}`,
		},
		{
			name:     "remote url rejected by struct validation",
			content:  `profile: {name: "crm", target: "https://a.example", browser: remote_url: "not a url"}`,
			wantPath: "RemoteURL",
		},
		{
			name:     "empty domain rejected by struct validation",
			content:  `profile: {name: "crm", target: "https://a.example", interactive_domains: [""]}`,
			wantPath: "InteractiveDomains",
		},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lp, err := l.LoadInline(context.Background(), tt.content)
			require.NoError(t, err)
			assert.False(t, lp.Valid())
			require.NotEmpty(t, lp.Errors)
			if tt.wantPath != "" {
				assert.Contains(t, lp.Errors[0].Path, tt.wantPath)
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoader_UnifiesSources(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.cue", `profile: {name: "crm", target: "https://org.crm.dynamics.com"}`)
	override := writeFile(t, dir, "ci.cue", `profile: timeouts: barrier: "2m"`)

	l := newTestLoader(t)
	p, err := l.LoadProfile(context.Background(), base, override)
	require.NoError(t, err)
	assert.Equal(t, "crm", p.Name)
	assert.Equal(t, 2*time.Minute, p.EngineTimeouts().Barrier)
}

func TestLoader_ConflictingSources(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.cue", `profile: {name: "crm", target: "https://a.example"}`)
	b := writeFile(t, dir, "b.cue", `profile: {name: "erp"}`)

	l := newTestLoader(t)
	_, err := l.LoadProfile(context.Background(), a, b)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
	assert.Contains(t, err.Error(), "invalid profile")
}

func TestLoader_MissingSource(t *testing.T) {
	l := newTestLoader(t)

	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))

	_, err = l.Load(context.Background())
	assert.True(t, engine.IsConfiguration(err))
}

func TestValidationError_String(t *testing.T) {
	e := ValidationError{File: "p.cue", Line: 3, Column: 7, Path: "profile.target", Message: "incomplete value"}
	assert.Equal(t, "p.cue:3:7: profile.target: incomplete value", e.String())
	assert.Equal(t, "oops", ValidationError{Message: "oops"}.String())
}

func TestProfile_TargetURLMustBeAbsolute(t *testing.T) {
	_, err := (&Profile{Target: "/relative"}).TargetURL()
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
	assert.False(t, strings.Contains(err.Error(), "%!"))
}
