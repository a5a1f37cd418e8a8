package engine

import (
	"context"
	"time"
)

// Barrier blocks until the application's busy indicator clears.
type Barrier struct {
	poller *Poller
	signal BusySignal
}

// NewBarrier creates a Barrier. A nil signal makes the barrier a no-op.
func NewBarrier(p *Poller, signal BusySignal) *Barrier {
	return &Barrier{poller: p, signal: signal}
}

// WaitForIdle returns true once the busy signal is absent. If the signal is
// absent on the first observation it returns without polling. A timeout is
// reported as (false, nil); only context cancellation is an error.
func (b *Barrier) WaitForIdle(ctx context.Context, timeout time.Duration) (bool, error) {
	if b == nil || b.signal == nil {
		return true, nil
	}

	start := time.Now()
	busy, err := b.signal.Busy(ctx)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && !busy {
		b.poller.observer.RecordBarrier(true, 0)
		return true, nil
	}

	res, err := b.poller.poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		busy, err := b.signal.Busy(ctx)
		if err != nil {
			return false, err
		}
		return !busy, nil
	})
	elapsed := time.Since(start)
	b.poller.observer.RecordBarrier(res.ok, elapsed)
	if err != nil {
		return false, err
	}
	if !res.ok {
		b.poller.logger.Warn().Err(res.lastErr).Dur("timeout", timeout).Msg("application still busy after barrier timeout")
	}
	return res.ok, nil
}

// LocatorBusySignal reports busy while a locator resolves to a visible element,
// such as a spinner or progress overlay.
type LocatorBusySignal struct {
	Driver  Driver
	Locator Locator
}

// Busy implements BusySignal.
func (s LocatorBusySignal) Busy(ctx context.Context) (bool, error) {
	el, err := s.Driver.Find(ctx, s.Locator)
	if err != nil || el == nil {
		return false, err
	}
	return el.Visible(ctx)
}
