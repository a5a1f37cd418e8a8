package engine

import (
	"context"
)

// RepeatUntil runs spec.Action and then polls spec.Verify for up to
// spec.Timeout, repeating the whole round up to spec.MaxAttempts times.
//
// A failed Action consumes its round without verification. When every round
// is used up, spec.OnFailure is called exactly once and a
// verification_timeout error is returned. Configuration errors and context
// cancellation abort the loop immediately without calling OnFailure.
func (p *Poller) RepeatUntil(ctx context.Context, spec RetrySpec) (RetryResult, error) {
	if spec.Action == nil || spec.Verify == nil {
		return RetryResult{}, NewConfigurationError("retry requires both an action and a verification", nil).
			WithOperation(spec.Name)
	}

	attempts := spec.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	log := p.logger.With().Str("operation", spec.Name).Logger()

	var lastErr error
	for round := 1; round <= attempts; round++ {
		if err := spec.Action(ctx); err != nil {
			if ctx.Err() != nil {
				return RetryResult{Rounds: round}, ctx.Err()
			}
			if IsConfiguration(err) {
				return RetryResult{Rounds: round}, err
			}
			lastErr = err
			log.Debug().Err(err).Int("round", round).Int("max_attempts", attempts).Msg("action failed")
			continue
		}

		res, err := p.poll(ctx, timeout, spec.Verify)
		if err != nil {
			return RetryResult{Rounds: round}, err
		}
		if res.ok {
			p.observer.RecordRetry(spec.Name, round, true)
			if round > 1 {
				log.Debug().Int("rounds", round).Msg("verification held after retry")
			}
			return RetryResult{Rounds: round}, nil
		}
		if res.lastErr != nil {
			lastErr = res.lastErr
		}
		log.Debug().Int("round", round).Int("max_attempts", attempts).Msg("verification did not hold")
	}

	failure := VerificationFailure{
		Name:     spec.Name,
		Expected: spec.Expected,
		Observed: p.observe(ctx, spec),
		Rounds:   attempts,
		LastErr:  lastErr,
	}
	if spec.Sensitive {
		failure.Expected = Redacted
		failure.Observed = Redacted
	}
	if spec.OnFailure != nil {
		spec.OnFailure(failure)
	}
	p.observer.RecordRetry(spec.Name, attempts, false)
	log.Warn().Int("rounds", attempts).Msg("verification exhausted")

	return RetryResult{Rounds: attempts}, NewVerificationTimeoutError(failure)
}

func (p *Poller) observe(ctx context.Context, spec RetrySpec) string {
	if spec.Observe == nil {
		return ""
	}
	v, err := spec.Observe(ctx)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return v
}
