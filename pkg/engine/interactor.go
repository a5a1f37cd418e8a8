package engine

import (
	"context"
	"fmt"
	"time"
)

// Timeouts groups the budgets used by Interactor operations.
type Timeouts struct {
	// Wait bounds hard waits for elements an operation needs.
	Wait time.Duration `json:"wait" validate:"gte=0"`

	// Probe bounds soft waits used to detect optional elements.
	Probe time.Duration `json:"probe" validate:"gte=0"`

	// Verify bounds each verification poll in a retry round.
	Verify time.Duration `json:"verify" validate:"gte=0"`

	// VerifyAttempts is the number of rounds for retry-with-verification.
	VerifyAttempts int `json:"verify_attempts" validate:"gte=0"`

	// Barrier bounds waits for the busy indicator to clear.
	Barrier time.Duration `json:"barrier" validate:"gte=0"`
}

// DefaultTimeouts returns the budgets used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Wait:           DefaultWaitTimeout,
		Probe:          DefaultProbeTimeout,
		Verify:         DefaultVerifyTimeout,
		VerifyAttempts: DefaultRetryMaxAttempts,
		Barrier:        DefaultBarrierTimeout,
	}
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Wait <= 0 {
		t.Wait = d.Wait
	}
	if t.Probe <= 0 {
		t.Probe = d.Probe
	}
	if t.Verify <= 0 {
		t.Verify = d.Verify
	}
	if t.VerifyAttempts <= 0 {
		t.VerifyAttempts = d.VerifyAttempts
	}
	if t.Barrier <= 0 {
		t.Barrier = d.Barrier
	}
	return t
}

// Interactor composes the poll, retry and barrier primitives into the
// operations page objects are written against. Every operation resolves its
// element fresh, and every operation that may trigger a transaction ends at
// the barrier.
type Interactor struct {
	poller   *Poller
	barrier  *Barrier
	timeouts Timeouts
}

// NewInteractor creates an Interactor. signal may be nil when the application
// has no busy indicator.
func NewInteractor(p *Poller, signal BusySignal, timeouts Timeouts) *Interactor {
	return &Interactor{
		poller:   p,
		barrier:  NewBarrier(p, signal),
		timeouts: timeouts.withDefaults(),
	}
}

// Poller returns the underlying poller.
func (i *Interactor) Poller() *Poller {
	return i.poller
}

// Timeouts returns the effective budgets.
func (i *Interactor) Timeouts() Timeouts {
	return i.timeouts
}

// WaitForIdle waits for the transaction barrier using the configured budget.
func (i *Interactor) WaitForIdle(ctx context.Context) (bool, error) {
	return i.barrier.WaitForIdle(ctx, i.timeouts.Barrier)
}

// Navigate loads uri and waits for the application to settle.
func (i *Interactor) Navigate(ctx context.Context, uri string) error {
	if err := i.poller.driver.Navigate(ctx, uri); err != nil {
		return NewTransientError("navigate", err).WithCode(ErrCodeDriver).WithDetail("uri", uri)
	}
	_, err := i.WaitForIdle(ctx)
	return err
}

// Click waits for loc to be clickable, clicks it and waits at the barrier.
func (i *Interactor) Click(ctx context.Context, loc Locator) error {
	el, err := i.poller.Clickable(ctx, loc, i.timeouts.Wait)
	if err != nil {
		return err
	}
	if err := el.Click(ctx); err != nil {
		return NewTransientError(fmt.Sprintf("click %s", loc), err).WithCode(ErrCodeDriver)
	}
	_, err = i.WaitForIdle(ctx)
	return err
}

// ClickIfVisible clicks loc if it becomes visible within timeout. It reports
// whether a click happened. Absence is not an error.
func (i *Interactor) ClickIfVisible(ctx context.Context, loc Locator, timeout time.Duration) (bool, error) {
	el, err := i.poller.Probe(ctx, loc, Visible, timeout)
	if err != nil || el == nil {
		return false, err
	}
	if err := el.Click(ctx); err != nil {
		return false, NewTransientError(fmt.Sprintf("click %s", loc), err).WithCode(ErrCodeDriver)
	}
	if _, err := i.WaitForIdle(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// SetValueOptions tunes SetValue.
type SetValueOptions struct {
	// Sensitive redacts the value from errors and failure reports.
	Sensitive bool

	// OnFailure is passed through to the retry loop.
	OnFailure func(VerificationFailure)
}

// SetValue replaces the contents of the input at loc with value and repeats
// until the input reports exactly value back.
func (i *Interactor) SetValue(ctx context.Context, loc Locator, value string, opts SetValueOptions) error {
	_, err := i.poller.RepeatUntil(ctx, RetrySpec{
		Name: fmt.Sprintf("set value of %s", loc),
		Action: func(ctx context.Context) error {
			el, err := i.poller.Clickable(ctx, loc, i.timeouts.Wait)
			if err != nil {
				return err
			}
			if err := el.Clear(ctx); err != nil {
				return err
			}
			return el.Type(ctx, value)
		},
		Verify: func(ctx context.Context) (bool, error) {
			v, err := i.currentValue(ctx, loc)
			if err != nil {
				return false, err
			}
			return v == value, nil
		},
		Observe: func(ctx context.Context) (string, error) {
			return i.currentValue(ctx, loc)
		},
		Expected:    value,
		Timeout:     i.timeouts.Verify,
		MaxAttempts: i.timeouts.VerifyAttempts,
		Sensitive:   opts.Sensitive,
		OnFailure:   opts.OnFailure,
	})
	if err != nil {
		return err
	}
	_, err = i.WaitForIdle(ctx)
	return err
}

func (i *Interactor) currentValue(ctx context.Context, loc Locator) (string, error) {
	el, err := i.poller.driver.Find(ctx, loc)
	if err != nil {
		return "", err
	}
	if el == nil {
		return "", fmt.Errorf("%s is no longer present", loc)
	}
	return el.Value(ctx)
}

// Submit submits the form owning loc and waits at the barrier.
func (i *Interactor) Submit(ctx context.Context, loc Locator) error {
	el, err := i.poller.Exists(ctx, loc, i.timeouts.Wait)
	if err != nil {
		return err
	}
	if err := el.Submit(ctx); err != nil {
		return NewTransientError(fmt.Sprintf("submit %s", loc), err).WithCode(ErrCodeDriver)
	}
	_, err = i.WaitForIdle(ctx)
	return err
}

// SwitchToTop waits for the application to settle and returns to the
// top-level document.
func (i *Interactor) SwitchToTop(ctx context.Context) error {
	if _, err := i.WaitForIdle(ctx); err != nil {
		return err
	}
	if err := i.poller.driver.SwitchFrame(ctx, TopFrame); err != nil {
		return NewTransientError("switch to top-level document", err).WithCode(ErrCodeDriver)
	}
	return nil
}

// SwitchToFrame waits for the iframe at loc and switches into it.
func (i *Interactor) SwitchToFrame(ctx context.Context, loc Locator) error {
	if _, err := i.poller.Exists(ctx, loc, i.timeouts.Wait); err != nil {
		return err
	}
	if err := i.poller.driver.SwitchFrame(ctx, FrameRef{Locator: loc}); err != nil {
		return NewTransientError(fmt.Sprintf("switch to frame %s", loc), err).WithCode(ErrCodeDriver)
	}
	return nil
}

// ThinkTime pauses for d, returning early only if ctx ends.
func (i *Interactor) ThinkTime(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
