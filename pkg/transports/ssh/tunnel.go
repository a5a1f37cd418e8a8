package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Tunnel is a local listener whose connections are forwarded through an SSH
// server to the remote DevTools endpoint.
type Tunnel struct {
	config *Config
	logger zerolog.Logger

	mu           sync.RWMutex
	client       *ssh.Client
	listener     net.Listener
	closeAgent   func() error
	connectedAt  time.Time
	lastActivity time.Time
	active       int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewTunnel validates config and returns an unopened tunnel.
func NewTunnel(config *Config, logger zerolog.Logger) (*Tunnel, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Tunnel{
		config: config,
		logger: logger.With().Str("component", "ssh-tunnel").Str("ssh_host", config.Host).Logger(),
	}, nil
}

// Open connects to the SSH server and starts accepting local connections.
func (t *Tunnel) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	clientConfig, closeAgent, err := t.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	client, err := t.dial(ctx, clientConfig)
	if err != nil {
		_ = closeAgent()
		return err
	}

	localAddr := t.config.LocalAddr
	if localAddr == "" {
		localAddr = "127.0.0.1:0"
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", localAddr)
	if err != nil {
		_ = client.Close()
		_ = closeAgent()
		return &TransportError{Op: "listen", Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.client = client
	t.listener = listener
	t.closeAgent = closeAgent
	t.cancel = cancel
	t.connectedAt = time.Now()
	t.lastActivity = t.connectedAt

	t.wg.Add(1)
	go t.acceptLoop(runCtx, listener)

	if t.config.KeepAliveInterval > 0 {
		t.wg.Add(1)
		go t.keepAlive(runCtx)
	}

	t.logger.Info().
		Str("local", listener.Addr().String()).
		Str("remote", t.config.RemoteAddress()).
		Msg("DevTools tunnel opened")

	return nil
}

// dial honours ctx during both the TCP connect and the SSH handshake.
func (t *Tunnel) dial(ctx context.Context, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	address := t.config.Address()
	t.logger.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: t.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	type handshake struct {
		client *ssh.Client
		err    error
	}
	done := make(chan handshake, 1)
	go func() {
		ncc, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
		if err != nil {
			done <- handshake{err: err}
			return
		}
		done <- handshake{client: ssh.NewClient(ncc, chans, reqs)}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case h := <-done:
		if h.err != nil {
			_ = conn.Close()
			return nil, &TransportError{Op: "handshake", Err: h.err, IsAuthError: true}
		}
		return h.client, nil
	}
}

func (t *Tunnel) acceptLoop(ctx context.Context, listener net.Listener) {
	defer t.wg.Done()

	for {
		local, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return
	}

	remote, err := client.Dial("tcp", t.config.RemoteAddress())
	if err != nil {
		t.logger.Error().Err(err).Str("remote", t.config.RemoteAddress()).Msg("failed to reach DevTools endpoint")
		return
	}
	defer remote.Close()

	t.track(1)
	defer t.track(-1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(remote, local)
		_ = remote.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(local, remote)
		_ = local.Close()
	}()
	wg.Wait()
}

func (t *Tunnel) track(delta int) {
	t.mu.Lock()
	t.active += delta
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// keepAlive sends periodic keep-alive requests and closes the tunnel after
// MaxKeepAliveRetries consecutive failures.
func (t *Tunnel) keepAlive(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := t.ping(); err != nil {
			retries++
			t.logger.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= t.config.MaxKeepAliveRetries {
				t.logger.Error().Msg("keep-alive failed too many times, closing tunnel")
				go func() { _ = t.Close() }()
				return
			}
			continue
		}
		retries = 0
	}
}

func (t *Tunnel) ping() error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("not connected")
	}

	if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		return err
	}

	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
	return nil
}

// HealthCheck verifies the SSH connection answers a keep-alive.
func (t *Tunnel) HealthCheck(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- t.ping() }()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "healthcheck", Err: ctx.Err(), IsTemporary: true}
	case err := <-errCh:
		if err != nil {
			return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
		}
		return nil
	}
}

// LocalAddr returns the listen address, or "" before Open.
func (t *Tunnel) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Endpoint returns the DevTools HTTP endpoint reachable through the tunnel.
func (t *Tunnel) Endpoint() string {
	addr := t.LocalAddr()
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

// IsOpen reports whether the tunnel is accepting connections.
func (t *Tunnel) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil
}

// Close stops the listener, drops forwarded connections and closes the SSH
// connection. It is safe to call more than once.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.client == nil {
		t.mu.Unlock()
		return nil
	}

	t.cancel()
	listenErr := t.listener.Close()
	clientErr := t.client.Close()
	_ = t.closeAgent()

	t.client = nil
	t.listener = nil
	t.mu.Unlock()

	t.wg.Wait()

	t.logger.Debug().Msg("DevTools tunnel closed")

	if err := errors.Join(listenErr, clientErr); err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// GetConnectionInfo returns information about the current connection.
func (t *Tunnel) GetConnectionInfo() ConnectionInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := ConnectionInfo{
		Host:         t.config.Host,
		Port:         t.config.Port,
		User:         t.config.User,
		RemoteAddr:   t.config.RemoteAddress(),
		ConnectedAt:  t.connectedAt,
		LastActivity: t.lastActivity,
		ActiveConns:  t.active,
	}
	if t.listener != nil {
		info.LocalAddr = t.listener.Addr().String()
	}
	return info
}
