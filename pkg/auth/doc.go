// Package auth drives a multi-step interactive login through the engine's
// synchronization primitives.
//
// # State Machine
//
//	Start -> UsernameEntry -> {AlreadyAuthenticated | OneTimeCodeChallenge | PasswordEntry}
//	      -> {Redirect | OneTimeCodeChallenge} -> OneTimeCodeEntry (loop)
//	      -> {StaySignedIn | AlreadyAuthenticated} -> Success | Failure
//
// Hosts that a HostPolicy marks as not requiring interactive authentication
// terminate with Success right after navigation. A missing username page is
// not an error if the application shell is already visible. A caller may hand
// the password step to a RedirectDelegate for delegated SSO, in which case
// the flow ends with Redirect.
//
// # One-Time Codes
//
// Each OneTimeCodeEntry attempt generates a new TOTP code. If the previous
// attempt submitted a code from the same 30 second window, the flow waits for
// the next window so a rejected code is never resubmitted. A code prompt with
// no configured MFA secret is a configuration error and ends the flow at once.
//
// # Secrets
//
// Credential keeps its fields in memguard enclaves. Plaintext is only exposed
// inside Use callbacks, and Login destroys the credential before returning.
// Neither logs, errors nor AttemptRecorder records carry secret material.
package auth
