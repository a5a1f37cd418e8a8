// Package otp generates RFC 6238 time-based one-time codes.
//
// Codes use HMAC-SHA1, a 30 second time step and 6 digits, the parameters
// every mainstream authenticator app defaults to. A code is a pure function
// of the shared secret and the instant it is generated for; nothing is
// cached, so a code rejected as stale is simply regenerated.
package otp

import (
	"errors"
	"strings"
	"time"

	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/pageflow/pageflow/pkg/engine"
)

const (
	// Period is the time step in seconds.
	Period = 30

	// Digits is the code length.
	Digits = 6
)

var opts = totp.ValidateOpts{
	Period:    Period,
	Skew:      0,
	Digits:    potp.DigitsSix,
	Algorithm: potp.AlgorithmSHA1,
}

// Normalize removes the grouping spaces and dashes authenticator enrolment
// pages insert into secrets.
func Normalize(secret string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		return r
	}, secret)
}

// Code returns the code for secret at t. Lower-case and unpadded base32
// secrets are accepted.
func Code(secret string, t time.Time) (string, error) {
	secret = Normalize(secret)
	if secret == "" {
		return "", engine.NewConfigurationError("one-time code secret is empty", nil).
			WithCode(engine.ErrCodeMissingSecret)
	}
	code, err := totp.GenerateCodeCustom(secret, t, opts)
	if err != nil {
		if errors.Is(err, potp.ErrValidateSecretInvalidBase32) {
			return "", engine.NewConfigurationError("one-time code secret is not valid base32", nil)
		}
		return "", engine.NewConfigurationError("generate one-time code", err)
	}
	return code, nil
}

// ValidateSecret reports whether secret can generate codes. The secret
// itself never appears in the returned error.
func ValidateSecret(secret string) error {
	_, err := Code(secret, time.Unix(0, 0))
	return err
}

// Counter returns the RFC 6238 time-step index for t.
func Counter(t time.Time) uint64 {
	return uint64(t.Unix()) / Period
}

// Remaining returns how long the code for t stays current.
func Remaining(t time.Time) time.Duration {
	next := time.Unix(int64(Counter(t)+1)*Period, 0)
	return next.Sub(t)
}

// Generator produces codes against an injectable clock.
type Generator struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewGenerator returns a Generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{Now: time.Now}
}

// Generated is a freshly generated code and the window it belongs to.
type Generated struct {
	Code      string
	Counter   uint64
	ExpiresIn time.Duration
}

func (g *Generator) now() time.Time {
	if g != nil && g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Window returns the current time step and how long it stays current.
func (g *Generator) Window() (counter uint64, remaining time.Duration) {
	t := g.now()
	return Counter(t), Remaining(t)
}

// Generate returns the code for secret at the generator's current time.
func (g *Generator) Generate(secret string) (Generated, error) {
	t := g.now()
	code, err := Code(secret, t)
	if err != nil {
		return Generated{}, err
	}
	return Generated{Code: code, Counter: Counter(t), ExpiresIn: Remaining(t)}, nil
}
