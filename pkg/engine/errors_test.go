package engine_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pageflow/pageflow/pkg/engine"
)

func TestErrorClassification(t *testing.T) {
	loc := engine.XPath("otc input", "//input[@name='otc']")

	tests := []struct {
		name      string
		err       error
		check     func(error) bool
		retryable bool
	}{
		{
			name:      "transient",
			err:       engine.NewTransientError("click", errors.New("detached")),
			check:     engine.IsTransient,
			retryable: true,
		},
		{
			name:  "configuration",
			err:   engine.NewConfigurationError("MFA secret is required", nil),
			check: engine.IsConfiguration,
		},
		{
			name:  "element not found",
			err:   engine.NewElementNotFoundError(loc, engine.Visible, time.Second, nil),
			check: engine.IsElementNotFound,
		},
		{
			name:  "verification timeout",
			err:   engine.NewVerificationTimeoutError(engine.VerificationFailure{Name: "set otc", Rounds: 3}),
			check: engine.IsVerificationTimeout,
		},
		{
			name:  "authentication failure",
			err:   engine.NewAuthenticationError("check the MFA secret", nil),
			check: engine.IsAuthenticationFailure,
		},
		{
			name:      "unclassified",
			err:       errors.New("boom"),
			check:     func(error) bool { return true },
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("login: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.Equal(t, tt.retryable, engine.IsRetryable(wrapped))
		})
	}
}

func TestError_IsMatchesClassAndCode(t *testing.T) {
	err := engine.NewConfigurationError("missing secret", nil).WithCode(engine.ErrCodeMissingSecret)

	assert.ErrorIs(t, err, &engine.Error{Class: engine.ClassConfiguration, Code: engine.ErrCodeMissingSecret})
	assert.NotErrorIs(t, err, &engine.Error{Class: engine.ClassConfiguration, Code: engine.ErrCodeInvalidConfig})
}

func TestError_MessageIncludesContext(t *testing.T) {
	err := engine.NewElementNotFoundError(engine.CSS("sign in", "#idSIButton9"), engine.Clickable, 2*time.Second, nil)

	assert.Equal(t,
		"[element_not_found] element not found: sign in (css=#idSIButton9) was not clickable within 2s",
		err.Error())

	withDetail := engine.NewTransientError("navigate", errors.New("net::ERR_ABORTED")).
		WithOperation("login").
		WithDetail("uri", "https://example.com")
	assert.Equal(t, "[transient] navigate (operation=login): net::ERR_ABORTED", withDetail.Error())
	assert.Equal(t, "https://example.com", withDetail.Details["uri"])
}

func TestLocator_String(t *testing.T) {
	loc := engine.XPath("", "//button").Within(engine.ID("dialog", "dlg"))
	assert.Equal(t, "xpath=//button within dialog (id=dlg)", loc.String())
	assert.Equal(t, engine.ByXPath, engine.Locator{Query: "//a"}.StrategyOrDefault())
	assert.True(t, engine.Locator{}.IsZero())
}
