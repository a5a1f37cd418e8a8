package ssh

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testSSHServer provides a minimal SSH server that honours direct-tcpip
// channels, which is all a tunnel needs.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	addr     string
	done     chan struct{}
}

// newTestSSHServer creates a server that accepts clientKey.
func newTestSSHServer(t *testing.T, clientKey ssh.PublicKey) *testSSHServer {
	t.Helper()

	hostPub, hostSigner, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pubKey.Marshal()) == string(clientKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		hostKey:  hostPub,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}

	go server.serve()
	t.Cleanup(server.close)

	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				_ = req.Reply(req.Type == "keepalive@openssh.com", nil)
			}
		}
	}()

	for newChannel := range chans {
		if newChannel.ChannelType() != "direct-tcpip" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		var target struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newChannel.ExtraData(), &target); err != nil {
			_ = newChannel.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}

		upstream, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
		if err != nil {
			_ = newChannel.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			_ = upstream.Close()
			continue
		}
		go ssh.DiscardRequests(requests)

		go func() {
			defer channel.Close()
			defer upstream.Close()
			go func() { _, _ = io.Copy(upstream, channel) }()
			_, _ = io.Copy(channel, upstream)
		}()
	}
}

func (s *testSSHServer) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
		_ = s.listener.Close()
	}
}

// generateTestKey generates a test SSH key pair.
func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}

	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}

	return publicKey, signer, nil
}

// writeClientKey writes a fresh OpenSSH private key and returns its path
// and public half.
func writeClientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal client key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write client key: %v", err)
	}

	sshPub, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		t.Fatalf("failed to convert public key: %v", err)
	}
	return path, sshPub
}

func writeKnownHosts(t *testing.T, addr string, key ssh.PublicKey) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatalf("failed to write known_hosts: %v", err)
	}
	return path
}

// newDevTools starts a fake DevTools HTTP endpoint.
func newDevTools(t *testing.T) (host string, port int) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"Browser":"HeadlessChrome/120.0"}`)
	}))
	t.Cleanup(srv.Close)

	return parseAddress(strings.TrimPrefix(srv.URL, "http://"))
}

func tunnelConfig(t *testing.T, server *testSSHServer, keyPath string) *Config {
	t.Helper()

	host, port := parseAddress(server.addr)
	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.PrivateKeyPath = keyPath
	config.KnownHostsPath = writeKnownHosts(t, server.addr, server.hostKey)
	config.ConnectionTimeout = 5 * time.Second
	config.KeepAliveInterval = 0
	return config
}

func TestTunnelForwardsDevTools(t *testing.T) {
	keyPath, clientPub := writeClientKey(t)
	server := newTestSSHServer(t, clientPub)

	config := tunnelConfig(t, server, keyPath)
	config.RemoteHost, config.RemotePort = newDevTools(t)

	tunnel, err := NewTunnel(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}

	ctx := context.Background()
	if err := tunnel.Open(ctx); err != nil {
		t.Fatalf("failed to open tunnel: %v", err)
	}
	defer tunnel.Close()

	if !tunnel.IsOpen() {
		t.Fatal("expected tunnel to be open")
	}
	if !strings.HasPrefix(tunnel.Endpoint(), "http://127.0.0.1:") {
		t.Errorf("unexpected endpoint %q", tunnel.Endpoint())
	}

	resp, err := http.Get(tunnel.Endpoint() + "/json/version")
	if err != nil {
		t.Fatalf("request through tunnel failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "HeadlessChrome") {
		t.Errorf("unexpected body %q", body)
	}

	if err := tunnel.HealthCheck(ctx); err != nil {
		t.Errorf("health check failed: %v", err)
	}

	info := tunnel.GetConnectionInfo()
	if info.User != "testuser" {
		t.Errorf("expected user 'testuser', got '%s'", info.User)
	}
	if info.RemoteAddr != config.RemoteAddress() {
		t.Errorf("expected remote %s, got %s", config.RemoteAddress(), info.RemoteAddr)
	}
}

func TestTunnelCloseStopsListener(t *testing.T) {
	keyPath, clientPub := writeClientKey(t)
	server := newTestSSHServer(t, clientPub)

	config := tunnelConfig(t, server, keyPath)
	config.RemoteHost, config.RemotePort = newDevTools(t)

	tunnel, err := NewTunnel(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}
	if err := tunnel.Open(context.Background()); err != nil {
		t.Fatalf("failed to open tunnel: %v", err)
	}

	addr := tunnel.LocalAddr()
	if err := tunnel.Close(); err != nil {
		t.Fatalf("failed to close tunnel: %v", err)
	}
	if tunnel.IsOpen() {
		t.Error("expected tunnel to be closed")
	}
	if err := tunnel.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		// The port may be reused by the OS but nothing answers HTTP on it.
		_ = conn.SetDeadline(time.Now().Add(time.Second))
		_, _ = io.WriteString(conn, "GET /json/version HTTP/1.0\r\n\r\n")
		if line, _ := bufio.NewReader(conn).ReadString('\n'); strings.Contains(line, "200") {
			t.Error("expected closed tunnel to stop forwarding")
		}
		_ = conn.Close()
	}

	if err := tunnel.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail on a closed tunnel")
	}
}

func TestTunnelRejectsUnknownHostKey(t *testing.T) {
	keyPath, clientPub := writeClientKey(t)
	server := newTestSSHServer(t, clientPub)

	otherKey, _, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	config := tunnelConfig(t, server, keyPath)
	config.KnownHostsPath = writeKnownHosts(t, server.addr, otherKey)

	tunnel, err := NewTunnel(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}

	err = tunnel.Open(context.Background())
	if err == nil {
		_ = tunnel.Close()
		t.Fatal("expected host key mismatch to fail")
	}

	var te *TransportError
	if !errors.As(err, &te) || !te.IsAuthError {
		t.Errorf("expected auth transport error, got %v", err)
	}
}

func TestTunnelRejectsUnknownClientKey(t *testing.T) {
	_, serverAccepts := writeClientKey(t)
	server := newTestSSHServer(t, serverAccepts)

	keyPath, _ := writeClientKey(t)
	tunnel, err := NewTunnel(tunnelConfig(t, server, keyPath), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}

	if err := tunnel.Open(context.Background()); err == nil {
		_ = tunnel.Close()
		t.Fatal("expected authentication to fail")
	}
}

func TestTunnelOpenHonoursContext(t *testing.T) {
	keyPath, _ := writeClientKey(t)

	config := DefaultConfig("127.0.0.1", "testuser")
	config.Port = 1
	config.PrivateKeyPath = keyPath
	config.StrictHostKeyChecking = false

	tunnel, err := NewTunnel(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = tunnel.Open(ctx)
	if err == nil {
		_ = tunnel.Close()
		t.Fatal("expected cancelled open to fail")
	}
	var te *TransportError
	if !errors.As(err, &te) || !te.Temporary() {
		t.Errorf("expected temporary transport error, got %v", err)
	}
}

// parseAddress splits "host:port".
func parseAddress(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
