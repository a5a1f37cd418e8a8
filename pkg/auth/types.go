package auth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pageflow/pageflow/pkg/engine"
)

// State is a node of the login state machine.
type State string

const (
	StateStart                State = "start"
	StateUsernameEntry        State = "username_entry"
	StateAlreadyAuthenticated State = "already_authenticated"
	StateOneTimeCodeChallenge State = "otc_challenge"
	StatePasswordEntry        State = "password_entry"
	StateRedirect             State = "redirect"
	StateOneTimeCodeEntry     State = "otc_entry"
	StateStaySignedIn         State = "stay_signed_in"
	StateSuccess              State = "success"
	StateFailure              State = "failure"
)

// Outcome is the terminal result of a login.
type Outcome int

const (
	// Failure means the session is not authenticated. Result.Reason explains why.
	Failure Outcome = iota

	// Success means the session is authenticated and on the top-level document.
	Success

	// Redirect means control was handed to a caller-supplied delegate.
	Redirect
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Redirect:
		return "redirect"
	default:
		return "failure"
	}
}

// MarshalText renders the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result reports a finished login.
type Result struct {
	Outcome     Outcome       `json:"outcome"`
	Reason      string        `json:"reason,omitempty"`
	State       State         `json:"state"`
	OTCAttempts int           `json:"otc_attempts"`
	AttemptID   string        `json:"attempt_id"`
	Duration    time.Duration `json:"duration"`
}

// HostPolicy decides whether a host requires interactive authentication.
type HostPolicy interface {
	RequiresInteractiveAuth(ctx context.Context, host string) (bool, error)
}

// DomainAllowList requires interactive authentication for hosts equal to,
// or subdomains of, any listed domain. An empty list requires it everywhere.
type DomainAllowList []string

// RequiresInteractiveAuth implements HostPolicy.
func (l DomainAllowList) RequiresInteractiveAuth(_ context.Context, host string) (bool, error) {
	if len(l) == 0 {
		return true, nil
	}
	return MatchDomain(host, l), nil
}

// MatchDomain reports whether host equals or is a subdomain of one of domains.
// Comparison is case-insensitive and ignores a leading dot on a domain.
func MatchDomain(host string, domains []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// RedirectRequest is handed to a RedirectDelegate.
type RedirectRequest struct {
	// Target is the URL the login started from.
	Target *url.URL

	// Credential is valid only for the duration of the call.
	Credential *Credential

	// Interactor drives the same browser session as the flow.
	Interactor *engine.Interactor
}

// RedirectDelegate completes a delegated SSO login in place of the inline
// password step.
type RedirectDelegate interface {
	HandleRedirect(ctx context.Context, req RedirectRequest) error
}

// RedirectFunc adapts a function to RedirectDelegate.
type RedirectFunc func(ctx context.Context, req RedirectRequest) error

// HandleRedirect implements RedirectDelegate.
func (f RedirectFunc) HandleRedirect(ctx context.Context, req RedirectRequest) error {
	return f(ctx, req)
}

// Attempt identifies a login attempt to an AttemptRecorder.
type Attempt struct {
	ID        string
	Host      string
	Path      string
	StartedAt time.Time
}

// Transition is one edge taken through the state machine.
type Transition struct {
	AttemptID string
	From      State
	To        State
	At        time.Time
	Detail    string
}

// AttemptRecorder persists login attempts for auditing. Implementations must
// never receive secret material; the flow only passes the fields above.
type AttemptRecorder interface {
	BeginAttempt(ctx context.Context, a Attempt) error
	RecordTransition(ctx context.Context, t Transition) error
	FinishAttempt(ctx context.Context, id string, r Result) error
}

// Observer receives login measurements. telemetry.Metrics implements it.
type Observer interface {
	RecordTransition(from, to string)
	RecordLogin(outcome string, duration time.Duration)
	RecordOneTimeCode(accepted bool)
}

type nopObserver struct{}

func (nopObserver) RecordTransition(string, string) {}
func (nopObserver) RecordLogin(string, time.Duration) {}
func (nopObserver) RecordOneTimeCode(bool) {}
