package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/config"
	dp "github.com/pageflow/pageflow/pkg/driver/chromedp"
	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/policy"
	"github.com/pageflow/pageflow/pkg/redirect"
	"github.com/pageflow/pageflow/pkg/stores"
	"github.com/pageflow/pageflow/pkg/telemetry"
	"github.com/pageflow/pageflow/pkg/transports/ssh"
)

// session owns everything one login needs. close releases it in reverse
// order of acquisition.
type session struct {
	profile   *config.Profile
	target    *url.URL
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	policy    *policy.Engine
	store     *stores.SQLiteStore
	tunnel    *ssh.Tunnel
	driver    *dp.Driver
	flow      *auth.Flow
	redirect  *redirect.Delegate

	closers []func() error
}

func loadProfile(ctx context.Context, path string) (*config.Profile, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.LoadProfile(ctx, path)
}

// openSession builds the login stack for profile: telemetry, host policy,
// attempt store, optional SSH tunnel, browser driver and the flow itself.
func openSession(ctx context.Context, profile *config.Profile, version string) (s *session, err error) {
	s = &session{profile: profile}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	if s.target, err = profile.TargetURL(); err != nil {
		return nil, err
	}

	if s.telemetry, err = telemetry.NewTelemetry(profile.TelemetryConfig(version)); err != nil {
		return nil, engine.NewConfigurationError("invalid telemetry settings", err)
	}
	s.telemetry.StartMetricsServer()
	s.closers = append(s.closers, func() error { return s.telemetry.Shutdown(context.Background()) })
	s.logger = s.telemetry.Logger.With("profile", profile.Name).Zerolog()

	if s.policy, err = openPolicy(ctx, profile, s.logger); err != nil {
		return nil, err
	}

	var recorder auth.AttemptRecorder
	if profile.Store.Path != "" {
		if s.store, err = stores.Open(ctx, stores.Config{Path: profile.Store.Path}); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.store.Close)
		recorder = s.store.Recorder(profile.Name)
	}

	opts := dp.Options{
		RemoteURL: profile.Browser.RemoteURL,
		Headless:  profile.Browser.Headless,
		ExecPath:  profile.Browser.ExecPath,
		Logger:    s.logger,
	}
	if tc := profile.Browser.Tunnel; tc != nil {
		if s.tunnel, err = openTunnel(ctx, tc, s.logger); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.tunnel.Close)
		opts.RemoteURL = s.tunnel.Endpoint()
	}

	if s.driver, err = dp.New(ctx, opts); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.driver.Close)

	var signal engine.BusySignal = dp.ScriptBusySignal{Driver: s.driver, Expression: profile.Browser.BusyScript}
	if profile.Browser.BusyScript == "" && profile.BusyIndicator != nil {
		signal = engine.LocatorBusySignal{Driver: s.driver, Locator: *profile.BusyIndicator}
	}

	poller := engine.NewPoller(s.driver,
		engine.WithInterval(profile.Interval()),
		engine.WithLogger(s.logger),
		engine.WithObserver(s.telemetry.Metrics),
	)
	it := engine.NewInteractor(poller, signal, profile.EngineTimeouts())

	flowOpts := []auth.Option{
		auth.WithHostPolicy(s.policy),
		auth.WithLogger(s.logger),
		auth.WithObserver(s.telemetry.Metrics),
		auth.WithTracer(s.telemetry.Tracer.OTel()),
	}
	if recorder != nil {
		flowOpts = append(flowOpts, auth.WithRecorder(recorder))
	}
	s.flow = auth.NewFlow(it, profile.AuthConfig(), flowOpts...)

	if script := profile.Redirect.Script; script != "" {
		if s.redirect, err = redirect.Load(script, redirect.WithLogger(s.logger)); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func openPolicy(ctx context.Context, profile *config.Profile, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger, profile.InteractiveDomains)
	if err != nil {
		return nil, err
	}
	if len(profile.Policy.Paths) == 0 {
		return pe, nil
	}

	loader := policy.NewLoader(logger)
	if err := pe.LoadPolicies(ctx, loader, profile.Policy.Paths); err != nil {
		return nil, engine.NewConfigurationError("failed to load host policies", err)
	}
	if profile.Policy.Watch {
		if err := pe.Watch(ctx, loader, profile.Policy.Paths); err != nil {
			logger.Warn().Err(err).Msg("Policy hot reload disabled")
		}
	}
	return pe, nil
}

func openTunnel(ctx context.Context, tc *config.TunnelConfig, logger zerolog.Logger) (*ssh.Tunnel, error) {
	cfg := ssh.DefaultConfig(tc.Host, tc.User)
	if tc.Port > 0 {
		cfg.Port = tc.Port
	}
	if tc.PrivateKeyPath != "" {
		cfg.PrivateKeyPath = tc.PrivateKeyPath
	}
	if tc.KnownHostsPath != "" {
		cfg.KnownHostsPath = tc.KnownHostsPath
	}
	cfg.RemotePort = tc.RemotePort

	tunnel, err := ssh.NewTunnel(cfg, logger)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid tunnel settings", err)
	}
	if err := tunnel.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open DevTools tunnel to %s: %w", cfg.Address(), err)
	}
	return tunnel, nil
}

// recordError counts a classified failure in the error metrics.
func (s *session) recordError(err error) {
	var classified *engine.Error
	if errors.As(err, &classified) {
		s.telemetry.Metrics.RecordError(string(classified.Class), classified.Code)
		return
	}
	s.telemetry.Metrics.RecordError("unclassified", "")
}

func (s *session) loginOptions() []auth.LoginOption {
	if s.redirect == nil {
		return nil
	}
	return []auth.LoginOption{auth.WithRedirect(s.redirect)}
}

func (s *session) close(_ context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn().Err(err).Msg("Cleanup failed")
		}
	}
	s.closers = nil
}
