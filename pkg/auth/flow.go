package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/otp"
)

// Flow drives the multi-step login protocol. A Flow is reusable, but the
// browser session it drives is not shared: run one Login at a time.
type Flow struct {
	it       *engine.Interactor
	cfg      Config
	policy   HostPolicy
	codes    *otp.Generator
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer
	recorder AttemptRecorder
}

// Option configures a Flow.
type Option func(*Flow)

// WithHostPolicy sets the policy deciding which hosts need interactive login.
func WithHostPolicy(p HostPolicy) Option {
	return func(f *Flow) {
		if p != nil {
			f.policy = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

// WithObserver sets the metrics sink.
func WithObserver(o Observer) Option {
	return func(f *Flow) {
		if o != nil {
			f.observer = o
		}
	}
}

// WithTracer sets the tracer used for login spans.
func WithTracer(t trace.Tracer) Option {
	return func(f *Flow) {
		if t != nil {
			f.tracer = t
		}
	}
}

// WithRecorder sets the audit recorder.
func WithRecorder(r AttemptRecorder) Option {
	return func(f *Flow) {
		f.recorder = r
	}
}

// WithClock sets the clock one-time codes are generated against.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		if now != nil {
			f.codes = &otp.Generator{Now: now}
		}
	}
}

// NewFlow creates a Flow driving it.
func NewFlow(it *engine.Interactor, cfg Config, opts ...Option) *Flow {
	f := &Flow{
		it:       it,
		cfg:      cfg.withDefaults(),
		policy:   DomainAllowList(nil),
		codes:    otp.NewGenerator(),
		sleep:    engine.Sleep,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
		tracer:   noop.NewTracerProvider().Tracer("pageflow/auth"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LoginOption tunes a single Login call.
type LoginOption func(*loginOptions)

type loginOptions struct {
	redirect RedirectDelegate
}

// WithRedirect hands the password step to d. Login returns Redirect after
// d returns without error.
func WithRedirect(d RedirectDelegate) LoginOption {
	return func(o *loginOptions) {
		o.redirect = d
	}
}

// Login authenticates the browser session at target. cred is destroyed
// before Login returns, whatever the outcome.
//
// The returned error is non-nil exactly when the outcome is Failure and
// classifies the cause: configuration errors mean retrying cannot help.
func (f *Flow) Login(ctx context.Context, target *url.URL, cred *Credential, opts ...LoginOption) (Result, error) {
	defer cred.Destroy()

	var lo loginOptions
	for _, opt := range opts {
		opt(&lo)
	}

	r := &run{
		flow:  f,
		id:    uuid.NewString(),
		state: StateStart,
		start: time.Now(),
	}
	host := ""
	if target != nil {
		host = target.Hostname()
	}
	r.log = f.logger.With().Str("attempt_id", r.id).Str("host", host).Logger()

	ctx, span := f.tracer.Start(ctx, "auth.login", trace.WithAttributes(
		attribute.String("pageflow.attempt_id", r.id),
		attribute.String("pageflow.host", host),
	))
	defer span.End()

	if f.recorder != nil && target != nil {
		err := f.recorder.BeginAttempt(ctx, Attempt{ID: r.id, Host: host, Path: target.Path, StartedAt: r.start})
		if err != nil {
			r.log.Warn().Err(err).Msg("failed to record login attempt")
		}
	}

	res, err := r.login(ctx, target, cred, lo)
	res.AttemptID = r.id
	res.State = r.state
	res.OTCAttempts = r.otcAttempts
	res.Duration = time.Since(r.start)

	f.observer.RecordLogin(res.Outcome.String(), res.Duration)
	span.SetAttributes(
		attribute.String("pageflow.outcome", res.Outcome.String()),
		attribute.Int("pageflow.otc_attempts", res.OTCAttempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if f.recorder != nil && target != nil {
		if rerr := f.recorder.FinishAttempt(context.WithoutCancel(ctx), r.id, res); rerr != nil {
			r.log.Warn().Err(rerr).Msg("failed to record login result")
		}
	}

	event := r.log.Info()
	if err != nil {
		event = r.log.Error().Err(err)
	}
	event.Str("outcome", res.Outcome.String()).
		Str("state", string(res.State)).
		Int("otc_attempts", res.OTCAttempts).
		Dur("duration", res.Duration).
		Msg("login finished")

	return res, err
}

// run is the mutable state of one Login call.
type run struct {
	flow        *Flow
	id          string
	state       State
	start       time.Time
	otcAttempts int
	lastCounter uint64
	hasCounter  bool
	log         zerolog.Logger
}

func (r *run) transition(ctx context.Context, to State, detail string) {
	from := r.state
	r.state = to
	r.flow.observer.RecordTransition(string(from), string(to))
	r.log.Debug().Str("from", string(from)).Str("to", string(to)).Str("detail", detail).Msg("login state transition")
	trace.SpanFromContext(ctx).AddEvent("auth.state."+string(to), trace.WithAttributes(attribute.String("detail", detail)))

	if r.flow.recorder != nil {
		err := r.flow.recorder.RecordTransition(ctx, Transition{
			AttemptID: r.id,
			From:      from,
			To:        to,
			At:        time.Now(),
			Detail:    detail,
		})
		if err != nil {
			r.log.Warn().Err(err).Msg("failed to record state transition")
		}
	}
}

func (r *run) fail(ctx context.Context, err error) (Result, error) {
	r.transition(ctx, StateFailure, err.Error())
	return Result{Outcome: Failure, Reason: err.Error()}, err
}

func (r *run) succeed(ctx context.Context, detail string) (Result, error) {
	if err := r.flow.it.SwitchToTop(ctx); err != nil {
		return r.fail(ctx, err)
	}
	r.transition(ctx, StateSuccess, detail)
	return Result{Outcome: Success}, nil
}

func (r *run) login(ctx context.Context, target *url.URL, cred *Credential, lo loginOptions) (Result, error) {
	f := r.flow
	sel := f.cfg.Selectors

	if target == nil || target.Host == "" {
		return r.fail(ctx, engine.NewConfigurationError("login target must be an absolute URL", nil))
	}
	interactive, err := f.policy.RequiresInteractiveAuth(ctx, target.Hostname())
	if err != nil {
		return r.fail(ctx, fmt.Errorf("evaluate host policy: %w", err))
	}
	if err := f.it.Navigate(ctx, target.String()); err != nil {
		return r.fail(ctx, err)
	}
	if !interactive {
		r.transition(ctx, StateSuccess, "host does not require interactive authentication")
		return Result{Outcome: Success, Reason: "host does not require interactive authentication"}, nil
	}

	r.transition(ctx, StateUsernameEntry, "")
	if _, err := f.it.ClickIfVisible(ctx, sel.UseAnotherAccount, f.cfg.ProbeTimeout); err != nil {
		return r.fail(ctx, err)
	}

	usernameInput, err := f.it.Poller().Visible(ctx, sel.Username, f.cfg.UsernameTimeout)
	if err != nil && !engine.IsElementNotFound(err) {
		return r.fail(ctx, err)
	}

	otcPending := false
	if usernameInput == nil {
		loggedIn, err := r.mainPageVisible(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}
		if loggedIn {
			r.transition(ctx, StateAlreadyAuthenticated, "username input absent and main page visible")
			return r.succeed(ctx, "session already authenticated")
		}

		otcVisible, err := r.oneTimeCodeVisible(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}
		if !otcVisible {
			return r.fail(ctx, engine.NewAuthenticationError("login page not found", nil).WithCode(engine.ErrCodeLoginPage))
		}
		r.transition(ctx, StateOneTimeCodeChallenge, "one-time code prompt shown without username step")
		otcPending = true
	} else {
		if !cred.HasUsername() {
			return r.fail(ctx, engine.NewConfigurationError("username is required", nil).WithOperation("login"))
		}
		err := cred.UseUsername(func(username string) error {
			return f.it.SetValue(ctx, sel.Username, username, engine.SetValueOptions{Sensitive: true})
		})
		if err == nil {
			err = f.it.Submit(ctx, sel.Username)
		}
		if err != nil {
			return r.fail(ctx, err)
		}

		otcVisible, err := r.oneTimeCodeVisible(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}
		if otcVisible {
			r.transition(ctx, StateOneTimeCodeChallenge, "one-time code prompt shown before password step")
			otcPending = true
		}
	}

	if !otcPending {
		r.transition(ctx, StatePasswordEntry, "")
		if _, err := f.it.ClickIfVisible(ctx, sel.WorkOrSchoolAccount, f.cfg.ProbeTimeout); err != nil {
			return r.fail(ctx, err)
		}

		if lo.redirect != nil {
			r.transition(ctx, StateRedirect, "delegating to redirect handler")
			err := lo.redirect.HandleRedirect(ctx, RedirectRequest{Target: target, Credential: cred, Interactor: f.it})
			if err != nil {
				return r.fail(ctx, fmt.Errorf("redirect handler: %w", err))
			}
			return Result{Outcome: Redirect, Reason: "login delegated to redirect handler"}, nil
		}

		if err := r.enterPassword(ctx, cred); err != nil {
			return r.fail(ctx, err)
		}
	}

	return r.oneTimeCodeLoop(ctx, cred)
}

func (r *run) enterPassword(ctx context.Context, cred *Credential) error {
	f := r.flow
	if !cred.HasPassword() {
		return engine.NewConfigurationError("password is required", nil).WithOperation("login")
	}
	err := cred.UsePassword(func(password string) error {
		return f.it.SetValue(ctx, f.cfg.Selectors.Password, password, engine.SetValueOptions{Sensitive: true})
	})
	if err != nil {
		return err
	}
	return f.it.Submit(ctx, f.cfg.Selectors.Password)
}

// oneTimeCodeLoop submits fresh codes until a success signal is observed or
// the attempt budget is spent. The loop runs exactly OneTimeCodeAttempts times
// at most.
func (r *run) oneTimeCodeLoop(ctx context.Context, cred *Credential) (Result, error) {
	f := r.flow
	r.transition(ctx, StateOneTimeCodeEntry, "")

	submitted := false
	for attempt := 1; attempt <= f.cfg.OneTimeCodeAttempts; attempt++ {
		r.otcAttempts = attempt

		entered, err := r.enterOneTimeCode(ctx, cred)
		if err != nil {
			if engine.IsConfiguration(err) {
				r.otcAttempts = attempt - 1
				return r.fail(ctx, err)
			}
			if ctx.Err() != nil {
				return r.fail(ctx, err)
			}
			r.log.Warn().Err(err).Int("attempt", attempt).Msg("one-time code entry failed")
		}
		submitted = submitted || entered

		confirmed, via, err := r.confirmed(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}
		if entered {
			f.observer.RecordOneTimeCode(confirmed)
		}
		if confirmed {
			r.transition(ctx, via, "")
			return r.succeed(ctx, "login confirmed")
		}
		r.log.Debug().
			Int("attempt", attempt).
			Int("max_attempts", f.cfg.OneTimeCodeAttempts).
			Bool("code_submitted", entered).
			Msg("login not yet confirmed")
	}

	if submitted {
		return r.fail(ctx, engine.NewAuthenticationError(
			fmt.Sprintf("one-time code was not accepted after %d attempts; check the MFA secret", r.otcAttempts), nil).
			WithCode(engine.ErrCodeMFARejected))
	}
	return r.fail(ctx, engine.NewAuthenticationError(
		fmt.Sprintf("login was not confirmed after %d attempts", r.otcAttempts), nil))
}

// enterOneTimeCode submits a freshly generated code if the code prompt is
// visible. It reports whether a code was submitted.
func (r *run) enterOneTimeCode(ctx context.Context, cred *Credential) (bool, error) {
	f := r.flow
	sel := f.cfg.Selectors

	input, err := f.it.Poller().Probe(ctx, sel.OneTimeCode, engine.Visible, f.cfg.ProbeTimeout)
	if err != nil || input == nil {
		return false, err
	}
	if !cred.HasMFASecret() {
		return false, engine.NewConfigurationError("one-time code requested but no MFA secret is configured", nil).
			WithCode(engine.ErrCodeMissingSecret)
	}

	if err := r.awaitFreshWindow(ctx); err != nil {
		return false, err
	}
	var code otp.Generated
	err = cred.UseMFASecret(func(secret string) error {
		var genErr error
		code, genErr = f.codes.Generate(secret)
		return genErr
	})
	if err != nil {
		return false, err
	}

	err = f.it.SetValue(ctx, sel.OneTimeCode, code.Code, engine.SetValueOptions{Sensitive: true})
	if err == nil {
		err = f.it.Submit(ctx, sel.OneTimeCode)
	}
	if err != nil {
		return false, err
	}
	r.lastCounter = code.Counter
	r.hasCounter = true
	r.log.Debug().Uint64("time_step", code.Counter).Dur("expires_in", code.ExpiresIn).Msg("submitted one-time code")
	return true, nil
}

// awaitFreshWindow blocks until the current time step differs from the one
// that produced the last submitted code. The MFA secret stays sealed while
// waiting.
func (r *run) awaitFreshWindow(ctx context.Context) error {
	if !r.hasCounter {
		return nil
	}
	counter, remaining := r.flow.codes.Window()
	if counter != r.lastCounter {
		return nil
	}
	r.log.Debug().Dur("wait", remaining).Msg("waiting for next one-time code window")
	return r.flow.sleep(ctx, remaining)
}

// confirmed reports whether the login completed, and through which state.
func (r *run) confirmed(ctx context.Context) (bool, State, error) {
	f := r.flow
	clicked, err := f.it.ClickIfVisible(ctx, f.cfg.Selectors.StaySignedIn, f.cfg.ProbeTimeout)
	if err != nil {
		return false, "", err
	}
	if clicked {
		return true, StateStaySignedIn, nil
	}
	loggedIn, err := r.mainPageVisible(ctx)
	if err != nil {
		return false, "", err
	}
	if loggedIn {
		return true, StateAlreadyAuthenticated, nil
	}
	return false, "", nil
}

func (r *run) mainPageVisible(ctx context.Context) (bool, error) {
	f := r.flow
	el, err := f.it.Poller().Probe(ctx, f.cfg.Selectors.MainPage, engine.Visible, f.cfg.ProbeTimeout)
	return el != nil, err
}

func (r *run) oneTimeCodeVisible(ctx context.Context) (bool, error) {
	f := r.flow
	el, err := f.it.Poller().Probe(ctx, f.cfg.Selectors.OneTimeCode, engine.Visible, f.cfg.ProbeTimeout)
	return el != nil, err
}

// PassThrough completes a login for sessions that are authenticated by other
// means, such as integrated Windows authentication: it navigates to target
// and waits for the application shell.
func (f *Flow) PassThrough(ctx context.Context, target *url.URL) error {
	if target == nil || target.Host == "" {
		return engine.NewConfigurationError("login target must be an absolute URL", nil)
	}
	if err := f.it.Navigate(ctx, target.String()); err != nil {
		return err
	}
	if _, err := f.it.Poller().Visible(ctx, f.cfg.Selectors.MainPage, f.cfg.MainPageTimeout); err != nil {
		return err
	}
	return f.it.SwitchToTop(ctx)
}

// WaitForMainPage reports whether the application shell became visible
// within timeout.
func (f *Flow) WaitForMainPage(ctx context.Context, timeout time.Duration) (bool, error) {
	el, err := f.it.Poller().Probe(ctx, f.cfg.Selectors.MainPage, engine.Visible, timeout)
	return el != nil, err
}

// SignOut opens the account manager and signs out.
func (f *Flow) SignOut(ctx context.Context) error {
	if err := f.it.Click(ctx, f.cfg.Selectors.AccountManager); err != nil {
		return fmt.Errorf("open account manager: %w", err)
	}
	if err := f.it.Click(ctx, f.cfg.Selectors.SignOut); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// IsConfigurationFailure reports whether err from Login means the caller must
// fix its configuration before retrying.
func IsConfigurationFailure(err error) bool {
	var missing *MissingFieldError
	return engine.IsConfiguration(err) || errors.As(err, &missing)
}
