package auth

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/awnumar/memguard"
)

// ErrCredentialDestroyed is returned when a destroyed credential is used.
var ErrCredentialDestroyed = errors.New("credential has been destroyed")

// ErrNotSerializable is returned by the marshalling methods of Credential.
var ErrNotSerializable = errors.New("credentials cannot be serialized")

// Credential holds a username, password and optional MFA secret in
// encrypted memguard enclaves. Plaintext only exists inside the callbacks
// passed to the Use methods, in locked memory that is wiped when they return.
// The string handed to a callback must not be retained: reading it after the
// callback returns faults.
//
// A Credential never formats or marshals its contents.
type Credential struct {
	mu        sync.Mutex
	username  *memguard.Enclave
	password  *memguard.Enclave
	mfaSecret *memguard.Enclave
	destroyed bool

	// open counts plaintext buffers currently handed to callbacks.
	open atomic.Int32
}

// NewCredential seals the given byte slices. The slices are wiped.
// mfaSecret may be nil when the account has no second factor.
func NewCredential(username, password, mfaSecret []byte) *Credential {
	return &Credential{
		username:  seal(username),
		password:  seal(password),
		mfaSecret: seal(mfaSecret),
	}
}

// NewCredentialFromStrings is a convenience for callers that already hold
// plaintext strings, such as tests and environment lookups.
func NewCredentialFromStrings(username, password, mfaSecret string) *Credential {
	return NewCredential([]byte(username), []byte(password), []byte(mfaSecret))
}

// seal moves b into an enclave. Empty input yields a nil enclave.
func seal(b []byte) *memguard.Enclave {
	if len(b) == 0 {
		return nil
	}
	return memguard.NewEnclave(b)
}

// HasUsername reports whether a username is set.
func (c *Credential) HasUsername() bool {
	return c.has(func() *memguard.Enclave { return c.username })
}

// HasPassword reports whether a password is set.
func (c *Credential) HasPassword() bool {
	return c.has(func() *memguard.Enclave { return c.password })
}

// HasMFASecret reports whether an MFA secret is set.
func (c *Credential) HasMFASecret() bool {
	return c.has(func() *memguard.Enclave { return c.mfaSecret })
}

func (c *Credential) has(field func() *memguard.Enclave) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.destroyed && field() != nil
}

// UseUsername calls fn with the plaintext username. The string is only valid
// until fn returns.
func (c *Credential) UseUsername(fn func(string) error) error {
	return c.use(func() *memguard.Enclave { return c.username }, "username", fn)
}

// UsePassword calls fn with the plaintext password. The string is only valid
// until fn returns.
func (c *Credential) UsePassword(fn func(string) error) error {
	return c.use(func() *memguard.Enclave { return c.password }, "password", fn)
}

// UseMFASecret calls fn with the plaintext MFA secret. The string is only valid
// until fn returns.
func (c *Credential) UseMFASecret(fn func(string) error) error {
	return c.use(func() *memguard.Enclave { return c.mfaSecret }, "MFA secret", fn)
}

func (c *Credential) use(field func() *memguard.Enclave, name string, fn func(string) error) error {
	if c == nil {
		return &MissingFieldError{Field: name}
	}
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrCredentialDestroyed
	}
	enclave := field()
	c.mu.Unlock()

	if enclave == nil {
		return &MissingFieldError{Field: name}
	}
	buf, err := enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	c.open.Add(1)
	defer c.open.Add(-1)
	return fn(buf.String())
}

// Destroy drops every enclave. Subsequent Use calls fail. Destroy is idempotent.
func (c *Credential) Destroy() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = nil
	c.password = nil
	c.mfaSecret = nil
	c.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (c *Credential) Destroyed() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// String implements fmt.Stringer without revealing contents.
func (c *Credential) String() string {
	return "auth.Credential{[redacted]}"
}

// GoString implements fmt.GoStringer without revealing contents.
func (c *Credential) GoString() string {
	return c.String()
}

// MarshalJSON always fails.
func (c *Credential) MarshalJSON() ([]byte, error) {
	return nil, ErrNotSerializable
}

// MarshalText always fails.
func (c *Credential) MarshalText() ([]byte, error) {
	return nil, ErrNotSerializable
}

// MissingFieldError reports that a credential field needed by the flow is not set.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "credential has no " + e.Field
}
