// Package ssh forwards a local TCP port to a browser DevTools endpoint on a
// remote machine over SSH, so the browser driver can attach to a browser
// that only listens on the remote loopback interface.
package ssh

import "time"

// ConnectionInfo contains details about an open tunnel.
type ConnectionInfo struct {
	// Host is the SSH server hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// LocalAddr is the address the tunnel listens on
	LocalAddr string

	// RemoteAddr is the forwarded DevTools address
	RemoteAddr string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when a keep-alive or forwarded connection last succeeded
	LastActivity time.Time

	// ActiveConns is the number of forwarded connections currently open
	ActiveConns int
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "listen", "forward")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication or
	// host key verification
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
