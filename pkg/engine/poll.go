package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Poller evaluates conditions against a Driver on a fixed interval.
// A Poller holds no per-wait state and may be shared by sequential callers.
type Poller struct {
	driver   Driver
	interval time.Duration
	logger   zerolog.Logger
	observer Observer
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the fixed delay between evaluations.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the logger used for poll diagnostics.
func WithLogger(logger zerolog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithObserver sets the metrics sink.
func WithObserver(o Observer) PollerOption {
	return func(p *Poller) {
		if o != nil {
			p.observer = o
		}
	}
}

// NewPoller creates a Poller over driver.
func NewPoller(driver Driver, opts ...PollerOption) *Poller {
	p := &Poller{
		driver:   driver,
		interval: DefaultPollInterval,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Driver returns the driver the poller resolves locators against.
func (p *Poller) Driver() Driver {
	return p.driver
}

// Interval returns the delay between evaluations.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Until evaluates fn until it returns true or timeout elapses. Errors returned
// by fn count as "not yet". The returned error is non-nil only when ctx ends
// or fn reports a configuration error.
func (p *Poller) Until(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (bool, error)) (bool, error) {
	res, err := p.poll(ctx, timeout, fn)
	return res.ok, err
}

// pollResult is the outcome of a completed poll loop. lastErr is the most
// recent error fn reported, kept for diagnostics.
type pollResult struct {
	ok      bool
	lastErr error
}

// poll is the single polling loop. The error is non-nil only if the loop was
// aborted. Sleeps are capped at the remaining budget, so poll never blocks longer than
// timeout plus one evaluation.
func (p *Poller) poll(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (bool, error)) (pollResult, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		ok, err := fn(ctx)
		switch {
		case ctx.Err() != nil:
			return pollResult{lastErr: lastErr}, ctx.Err()
		case err != nil:
			if IsConfiguration(err) {
				return pollResult{lastErr: err}, err
			}
			lastErr = err
		case ok:
			return pollResult{ok: true}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pollResult{lastErr: lastErr}, nil
		}

		wait := p.interval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return pollResult{lastErr: lastErr}, ctx.Err()
		}
	}
}

// WaitUntil polls until loc resolves to an element satisfying spec.Condition.
// The locator is re-resolved on every tick and the returned element is the one
// that satisfied the condition on the final tick.
//
// On timeout a Soft wait returns (nil, nil); a Hard wait returns an
// element_not_found error carrying the locator.
func (p *Poller) WaitUntil(ctx context.Context, loc Locator, spec WaitSpec) (Element, error) {
	if loc.IsZero() {
		return nil, NewConfigurationError("locator has an empty query", nil).WithOperation("wait")
	}
	cond := spec.Condition
	if cond == "" {
		cond = Exists
	}

	start := time.Now()
	var found Element
	res, err := p.poll(ctx, spec.Timeout, func(ctx context.Context) (bool, error) {
		found = nil
		el, err := p.evaluate(ctx, loc, cond)
		if err != nil || el == nil {
			return false, err
		}
		found = el
		return true, nil
	})
	elapsed := time.Since(start)
	p.observer.RecordPoll(string(cond), res.ok, elapsed)

	if err != nil {
		return nil, err
	}
	if res.ok {
		p.logger.Debug().
			Str("locator", loc.String()).
			Str("condition", string(cond)).
			Dur("elapsed", elapsed).
			Msg("condition satisfied")
		return found, nil
	}

	if spec.Policy == Soft {
		p.logger.Debug().
			Str("locator", loc.String()).
			Str("condition", string(cond)).
			Dur("timeout", spec.Timeout).
			Msg("condition not satisfied")
		return nil, nil
	}
	return nil, NewElementNotFoundError(loc, cond, spec.Timeout, res.lastErr)
}

// evaluate resolves loc once and checks cond. A nil element means the
// condition does not hold on this tick.
func (p *Poller) evaluate(ctx context.Context, loc Locator, cond Condition) (Element, error) {
	el, err := p.driver.Find(ctx, loc)
	if err != nil || el == nil {
		return nil, err
	}
	if cond == Exists {
		return el, nil
	}

	visible, err := el.Visible(ctx)
	if err != nil || !visible {
		return nil, err
	}
	if cond == Visible {
		return el, nil
	}

	enabled, err := el.Enabled(ctx)
	if err != nil || !enabled {
		return nil, err
	}
	return el, nil
}

// Exists waits until loc resolves, failing hard on timeout.
func (p *Poller) Exists(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	return p.WaitUntil(ctx, loc, WaitSpec{Condition: Exists, Timeout: timeout, Policy: Hard})
}

// Visible waits until loc resolves to a displayed element, failing hard on timeout.
func (p *Poller) Visible(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	return p.WaitUntil(ctx, loc, WaitSpec{Condition: Visible, Timeout: timeout, Policy: Hard})
}

// Clickable waits until loc resolves to a displayed, enabled element, failing hard on timeout.
func (p *Poller) Clickable(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	return p.WaitUntil(ctx, loc, WaitSpec{Condition: Clickable, Timeout: timeout, Policy: Hard})
}

// Probe is a soft wait: it returns (nil, nil) if cond does not hold within timeout.
func (p *Poller) Probe(ctx context.Context, loc Locator, cond Condition, timeout time.Duration) (Element, error) {
	return p.WaitUntil(ctx, loc, WaitSpec{Condition: cond, Timeout: timeout, Policy: Soft})
}
