package engine_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/engine/enginetest"
)

// counterSpec returns a spec whose verification holds once the action ran
// at least succeedOn times.
func counterSpec(succeedOn, maxAttempts int, actions *int) engine.RetrySpec {
	return engine.RetrySpec{
		Name: "counter",
		Action: func(context.Context) error {
			*actions++
			return nil
		},
		Verify: func(context.Context) (bool, error) {
			return *actions >= succeedOn, nil
		},
		Observe: func(context.Context) (string, error) {
			return strconv.Itoa(*actions), nil
		},
		Expected:    strconv.Itoa(succeedOn),
		Timeout:     10 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}
}

func TestRepeatUntil_SucceedsFirstRound(t *testing.T) {
	p := newTestPoller(enginetest.NewDriver())
	actions := 0

	res, err := p.RepeatUntil(context.Background(), counterSpec(1, 3, &actions))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, actions)
}

func TestRepeatUntil_ReportsRoundsUsed(t *testing.T) {
	for k := 1; k <= 4; k++ {
		t.Run(strconv.Itoa(k), func(t *testing.T) {
			p := newTestPoller(enginetest.NewDriver())
			actions := 0

			res, err := p.RepeatUntil(context.Background(), counterSpec(k, 4, &actions))
			require.NoError(t, err)
			assert.Equal(t, k, res.Rounds)
			assert.Equal(t, k, actions)
		})
	}
}

func TestRepeatUntil_ExhaustedCallsFailureHandlerOnce(t *testing.T) {
	p := newTestPoller(enginetest.NewDriver())
	actions := 0
	var failures []engine.VerificationFailure

	spec := counterSpec(100, 3, &actions)
	spec.OnFailure = func(f engine.VerificationFailure) {
		failures = append(failures, f)
	}

	res, err := p.RepeatUntil(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, engine.IsVerificationTimeout(err))
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 3, actions)

	require.Len(t, failures, 1)
	assert.Equal(t, "100", failures[0].Expected)
	assert.Equal(t, "3", failures[0].Observed)
	assert.Equal(t, 3, failures[0].Rounds)

	var engErr *engine.Error
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "100", engErr.Expected)
	assert.Equal(t, "3", engErr.Observed)
	assert.Contains(t, err.Error(), `expected "100", observed "3"`)
}

func TestRepeatUntil_SensitiveRedactsValues(t *testing.T) {
	p := newTestPoller(enginetest.NewDriver())
	actions := 0
	var reported engine.VerificationFailure

	spec := counterSpec(100, 2, &actions)
	spec.Expected = "hunter2"
	spec.Sensitive = true
	spec.OnFailure = func(f engine.VerificationFailure) { reported = f }

	_, err := p.RepeatUntil(context.Background(), spec)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Equal(t, engine.Redacted, reported.Expected)
	assert.Equal(t, engine.Redacted, reported.Observed)
}

func TestRepeatUntil_ActionErrorConsumesRound(t *testing.T) {
	p := newTestPoller(enginetest.NewDriver())
	actions := 0
	verifies := 0

	res, err := p.RepeatUntil(context.Background(), engine.RetrySpec{
		Name: "flaky",
		Action: func(context.Context) error {
			actions++
			if actions == 1 {
				return enginetest.ErrStale
			}
			return nil
		},
		Verify: func(context.Context) (bool, error) {
			verifies++
			return true, nil
		},
		Timeout:     10 * time.Millisecond,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 1, verifies)
}

func TestRepeatUntil_ExhaustedWrapsLastActionError(t *testing.T) {
	p := newTestPoller(enginetest.NewDriver())

	_, err := p.RepeatUntil(context.Background(), engine.RetrySpec{
		Name:        "always stale",
		Action:      func(context.Context) error { return enginetest.ErrStale },
		Verify:      func(context.Context) (bool, error) { return true, nil },
		MaxAttempts: 2,
	})
	require.Error(t, err)
	assert.True(t, engine.IsVerificationTimeout(err))
	assert.ErrorIs(t, err, enginetest.ErrStale)
}

func TestRepeatUntil_ConfigurationErrorAbortsWithoutFailureHandler(t *testing.T) {
	p := newTestPoller(enginetest.NewDriver())
	actions := 0
	called := false

	_, err := p.RepeatUntil(context.Background(), engine.RetrySpec{
		Name: "misconfigured",
		Action: func(context.Context) error {
			actions++
			return engine.NewConfigurationError("no secret", nil)
		},
		Verify:      func(context.Context) (bool, error) { return false, nil },
		MaxAttempts: 5,
		OnFailure:   func(engine.VerificationFailure) { called = true },
	})
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
	assert.Equal(t, 1, actions)
	assert.False(t, called)
}

func TestRepeatUntil_RequiresActionAndVerify(t *testing.T) {
	p := newTestPoller(enginetest.NewDriver())

	_, err := p.RepeatUntil(context.Background(), engine.RetrySpec{Name: "empty"})
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestRepeatUntil_ZeroAttemptsMeansOne(t *testing.T) {
	p := newTestPoller(enginetest.NewDriver())
	actions := 0

	res, err := p.RepeatUntil(context.Background(), counterSpec(5, 0, &actions))
	require.Error(t, err)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, actions)
}
