// Package sshtest runs an in-process SSH server for tests. It can execute
// scripted commands, forward direct-tcpip channels for jump-host tests and
// serve a directory over SFTP.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Response is what the server sends back for one exec request.
type Response struct {
	Stdout string
	Stderr string
	Exit   int
	// Delay holds the reply back. A signal or a closed channel ends the
	// wait early.
	Delay time.Duration
}

// Handler decides the Response for a command.
type Handler func(cmd string) Response

// Reply returns a Handler that answers every command the same way.
func Reply(stdout, stderr string, exit int) Handler {
	return func(string) Response {
		return Response{Stdout: stdout, Stderr: stderr, Exit: exit}
	}
}

type config struct {
	pubKey     ssh.PublicKey
	password   string
	noAuth     bool
	forwardTCP bool
	sftpRoot   string
	handler    Handler
}

// Option configures a test server.
type Option func(*config)

// WithPublicKey accepts the given client key.
func WithPublicKey(pub ssh.PublicKey) Option {
	return func(c *config) { c.pubKey = pub }
}

// WithPassword accepts password auth with pw.
func WithPassword(pw string) Option {
	return func(c *config) { c.password = pw }
}

// WithNoAuth accepts any client.
func WithNoAuth() Option {
	return func(c *config) { c.noAuth = true }
}

// WithHandler sets how exec requests are answered. Without one the server
// echoes the command on stdout.
func WithHandler(h Handler) Option {
	return func(c *config) { c.handler = h }
}

// WithForwardTCP enables direct-tcpip channels.
func WithForwardTCP() Option {
	return func(c *config) { c.forwardTCP = true }
}

// WithSFTP serves root over the "sftp" subsystem.
func WithSFTP(root string) Option {
	return func(c *config) { c.sftpRoot = root }
}

// Server is a running test server. It shuts down when the test ends.
type Server struct {
	Addr string
	Host string
	Port int

	listener net.Listener
	done     chan struct{}
	conns    atomic.Int32

	mu      sync.Mutex
	signals []string
}

// Start launches a server on a loopback port.
func Start(t *testing.T, opts ...Option) *Server {
	t.Helper()

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	serverConf, err := serverConfig(cfg)
	if err != nil {
		t.Fatalf("server config: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Addr:     listener.Addr().String(),
		listener: listener,
		done:     make(chan struct{}),
	}
	s.Host, s.Port = ParseAddr(t, s.Addr)

	go func() {
		defer close(s.done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			s.conns.Add(1)
			go s.serveConn(conn, serverConf, cfg)
		}
	}()

	t.Cleanup(s.Close)
	return s
}

// Close stops accepting connections. It is safe to call more than once.
func (s *Server) Close() {
	s.listener.Close()
	<-s.done
}

// Connections counts accepted TCP connections.
func (s *Server) Connections() int {
	return int(s.conns.Load())
}

// Signals lists the signal names clients sent to running sessions.
func (s *Server) Signals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

func serverConfig(cfg *config) (*ssh.ServerConfig, error) {
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		return nil, fmt.Errorf("host signer: %w", err)
	}

	conf := &ssh.ServerConfig{NoClientAuth: cfg.noAuth}
	conf.AddHostKey(hostSigner)

	if cfg.pubKey != nil {
		want := string(cfg.pubKey.Marshal())
		conf.PublicKeyCallback = func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == want {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		}
	}
	if cfg.password != "" {
		conf.PasswordCallback = func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == cfg.password {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		}
	}
	return conf, nil
}

func (s *Server) serveConn(conn net.Conn, conf *ssh.ServerConfig, cfg *config) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, conf)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		switch nc.ChannelType() {
		case "session":
			ch, requests, err := nc.Accept()
			if err != nil {
				continue
			}
			go s.serveSession(ch, requests, cfg)
		case "direct-tcpip":
			if !cfg.forwardTCP {
				nc.Reject(ssh.Prohibited, "tcpip forwarding not enabled")
				continue
			}
			ch, reqs, err := nc.Accept()
			if err != nil {
				continue
			}
			go ssh.DiscardRequests(reqs)
			go forward(ch, nc.ExtraData())
		default:
			nc.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

func (s *Server) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request, cfg *config) {
	defer ch.Close()

	interrupted := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(interrupted) }) }
	defer stop()

	finished := make(chan struct{})
	for {
		select {
		case req, ok := <-reqs:
			if !ok {
				return
			}
			switch req.Type {
			case "exec":
				cmd, ok := readString(req.Payload)
				if !ok {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				go func() {
					defer close(finished)
					respond(ch, cfg, cmd, interrupted)
				}()
			case "subsystem":
				name, _ := readString(req.Payload)
				if name != "sftp" || cfg.sftpRoot == "" {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				srv, err := sftp.NewServer(ch, sftp.WithServerWorkingDirectory(cfg.sftpRoot))
				if err != nil {
					return
				}
				go func() {
					defer close(finished)
					srv.Serve()
					srv.Close()
				}()
			case "signal":
				name, _ := readString(req.Payload)
				s.mu.Lock()
				s.signals = append(s.signals, name)
				s.mu.Unlock()
				stop()
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		case <-finished:
			return
		}
	}
}

func respond(ch ssh.Channel, cfg *config, cmd string, interrupted <-chan struct{}) {
	resp := Response{Stdout: cmd}
	if cfg.handler != nil {
		resp = cfg.handler(cmd)
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-interrupted:
			return
		}
	}

	if resp.Stdout != "" {
		io.WriteString(ch, resp.Stdout)
	}
	if resp.Stderr != "" {
		io.WriteString(ch.Stderr(), resp.Stderr)
	}
	status := make([]byte, 4)
	binary.BigEndian.PutUint32(status, uint32(resp.Exit))
	ch.SendRequest("exit-status", false, status)
}

// forward proxies a direct-tcpip channel to the requested address.
func forward(ch ssh.Channel, extra []byte) {
	defer ch.Close()

	host, ok := readString(extra)
	if !ok || len(extra) < 4+len(host)+4 {
		return
	}
	port := binary.BigEndian.Uint32(extra[4+len(host):])

	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(ch, conn); done <- struct{}{} }()
	go func() { io.Copy(conn, ch); done <- struct{}{} }()
	<-done
}

// readString decodes an SSH wire string (uint32 length, then bytes).
func readString(b []byte) (string, bool) {
	if len(b) < 4 {
		return "", false
	}
	n := binary.BigEndian.Uint32(b)
	if uint64(len(b)-4) < uint64(n) {
		return "", false
	}
	return string(b[4 : 4+n]), true
}

// GenerateKey creates an ed25519 key pair and writes the private key, PEM
// encoded, into a temp dir. It returns the public key and the key path.
func GenerateKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return signer.PublicKey(), keyPath
}

// ParseAddr splits host:port.
func ParseAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return host, port
}
