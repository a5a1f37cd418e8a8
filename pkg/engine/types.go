package engine

import (
	"context"
	"fmt"
	"time"
)

// Strategy selects how a Locator query is interpreted by the driver.
type Strategy string

const (
	// ByXPath interprets the query as an XPath expression.
	ByXPath Strategy = "xpath"

	// ByCSS interprets the query as a CSS selector.
	ByCSS Strategy = "css"

	// ByID interprets the query as an element id attribute.
	ByID Strategy = "id"
)

// Locator is an immutable query identifying zero or one element in the current
// document. It is resolved afresh on every evaluation.
type Locator struct {
	// Name is a human label used in logs and errors, e.g. "username input".
	Name string `json:"name,omitempty" cue:"name"`

	// Strategy is how Query is interpreted. Defaults to ByXPath.
	Strategy Strategy `json:"strategy,omitempty" cue:"strategy"`

	// Query is the selector text.
	Query string `json:"query" cue:"query"`

	// Scope restricts resolution to descendants of another locator's element.
	Scope *Locator `json:"scope,omitempty" cue:"scope"`
}

// XPath returns a locator for an XPath expression.
func XPath(name, query string) Locator {
	return Locator{Name: name, Strategy: ByXPath, Query: query}
}

// CSS returns a locator for a CSS selector.
func CSS(name, query string) Locator {
	return Locator{Name: name, Strategy: ByCSS, Query: query}
}

// ID returns a locator for an element id.
func ID(name, id string) Locator {
	return Locator{Name: name, Strategy: ByID, Query: id}
}

// Within returns a copy of l scoped to descendants of scope.
func (l Locator) Within(scope Locator) Locator {
	s := scope
	l.Scope = &s
	return l
}

// IsZero reports whether the locator has no query.
func (l Locator) IsZero() bool {
	return l.Query == ""
}

// StrategyOrDefault returns the effective strategy.
func (l Locator) StrategyOrDefault() Strategy {
	if l.Strategy == "" {
		return ByXPath
	}
	return l.Strategy
}

// String implements fmt.Stringer.
func (l Locator) String() string {
	s := fmt.Sprintf("%s=%s", l.StrategyOrDefault(), l.Query)
	if l.Name != "" {
		s = fmt.Sprintf("%s (%s)", l.Name, s)
	}
	if l.Scope != nil {
		s += " within " + l.Scope.String()
	}
	return s
}

// Condition is a predicate evaluated against a freshly resolved element.
type Condition string

const (
	// Exists holds when the locator resolves to an element.
	Exists Condition = "exists"

	// Visible holds when the element exists and is displayed.
	Visible Condition = "visible"

	// Clickable holds when the element is visible and enabled.
	Clickable Condition = "clickable"
)

// Policy decides what a wait does when its timeout elapses.
type Policy string

const (
	// Soft waits report absence as a normal result.
	Soft Policy = "soft"

	// Hard waits fail with an element_not_found error.
	Hard Policy = "hard"
)

// WaitSpec describes a bounded poll for a condition.
type WaitSpec struct {
	Condition Condition
	Timeout   time.Duration
	Policy    Policy
}

// Default timeouts used across the engine and the login flow.
const (
	DefaultPollInterval     = 250 * time.Millisecond
	DefaultWaitTimeout      = 30 * time.Second
	DefaultProbeTimeout     = 2 * time.Second
	DefaultBarrierTimeout   = 60 * time.Second
	DefaultVerifyTimeout    = 3 * time.Second
	DefaultRetryMaxAttempts = 3
)

// VerificationFailure describes an exhausted retry loop. It is handed to the
// failure handler and mirrored into the returned error.
type VerificationFailure struct {
	Name     string
	Expected string
	Observed string
	Rounds   int
	LastErr  error
}

// RetrySpec describes a retry-with-verification loop.
type RetrySpec struct {
	// Name identifies the operation in logs and errors.
	Name string

	// Action performs the side effect. It must be idempotent.
	Action func(ctx context.Context) error

	// Verify reports whether the action's effect has materialized.
	Verify func(ctx context.Context) (bool, error)

	// Observe reports the current state for failure messages. Optional.
	Observe func(ctx context.Context) (string, error)

	// Expected is the value Verify looks for, used in failure messages.
	Expected string

	// Timeout bounds each verification poll.
	Timeout time.Duration

	// MaxAttempts is the number of action rounds. Values below 1 mean 1.
	MaxAttempts int

	// Sensitive redacts Expected and Observed everywhere they are reported.
	Sensitive bool

	// OnFailure is invoked exactly once when all rounds are exhausted.
	OnFailure func(VerificationFailure)
}

// RetryResult reports a successful retry loop.
type RetryResult struct {
	// Rounds is the number of action rounds used, 1..MaxAttempts.
	Rounds int
}
