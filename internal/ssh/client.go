package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	sshconfig "github.com/kevinburke/ssh_config"

	"github.com/agent462/sweep/internal/pathutil"
)

// ClientConfig holds the options used to dial one host.
type ClientConfig struct {
	// User overrides the login name. Empty falls back to ~/.ssh/config,
	// then $USER, then root.
	User string

	// Port overrides the port. Zero falls back to ~/.ssh/config, then 22.
	Port int

	// IdentityFiles are tried in order. Empty falls back to ~/.ssh/config
	// and the default key locations.
	IdentityFiles []string

	// Password is offered after agent and key auth.
	Password string

	// AcceptUnknownHosts skips known_hosts verification.
	AcceptUnknownHosts bool

	// HostKeyCallback overrides known_hosts verification entirely.
	HostKeyCallback ssh.HostKeyCallback

	// ProxyJump lists comma-separated jump hosts ("user@jump:2222,bastion").
	// "none" disables jumping.
	ProxyJump string
}

// Output is what a remote command wrote and how it exited.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Client is one SSH connection, possibly tunnelled through jump hosts.
type Client struct {
	host  string
	conn  *ssh.Client
	jumps []*Client
}

// Dial connects to host. When conf.ProxyJump names jump hosts the
// connection is chained through each of them in order.
func Dial(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	if conf.ProxyJump != "" && conf.ProxyJump != "none" {
		return dialViaJumps(ctx, host, conf)
	}
	return dialDirect(ctx, host, conf)
}

func dialDirect(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	addr, sshConf, err := clientConfig(host, conf)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return handshake(ctx, host, conn, addr, sshConf)
}

func dialViaJumps(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	var jumps []*Client
	closeJumps := func() {
		for i := len(jumps) - 1; i >= 0; i-- {
			jumps[i].Close()
		}
	}

	for i, spec := range strings.Split(conf.ProxyJump, ",") {
		user, jumpHost, port := parseJumpHost(spec)
		jc := ClientConfig{
			User:               user,
			Port:               port,
			IdentityFiles:      conf.IdentityFiles,
			Password:           conf.Password,
			AcceptUnknownHosts: conf.AcceptUnknownHosts,
			HostKeyCallback:    conf.HostKeyCallback,
		}

		var hop *Client
		var err error
		if i == 0 {
			hop, err = dialDirect(ctx, jumpHost, jc)
		} else {
			hop, err = jumps[len(jumps)-1].dialThrough(ctx, jumpHost, jc)
		}
		if err != nil {
			closeJumps()
			return nil, fmt.Errorf("jump host %q: %w", strings.TrimSpace(spec), err)
		}
		jumps = append(jumps, hop)
	}

	target := conf
	target.ProxyJump = ""
	c, err := jumps[len(jumps)-1].dialThrough(ctx, host, target)
	if err != nil {
		closeJumps()
		return nil, fmt.Errorf("dial %s via jump hosts: %w", host, err)
	}
	c.jumps = jumps
	return c, nil
}

// dialThrough opens a new SSH connection tunnelled over c.
func (c *Client) dialThrough(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	addr, sshConf, err := clientConfig(host, conf)
	if err != nil {
		return nil, err
	}

	conn, err := c.conn.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tunnel through %s to %s: %w", c.host, addr, err)
	}
	return handshake(ctx, host, conn, addr, sshConf)
}

// handshake runs the SSH handshake over conn, aborting it when ctx ends.
func handshake(ctx context.Context, host string, conn net.Conn, addr string, conf *ssh.ClientConfig) (*Client, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	case r := <-done:
		if r.err != nil {
			conn.Close()
			return nil, fmt.Errorf("ssh handshake with %s: %w", addr, r.err)
		}
		return &Client{host: host, conn: ssh.NewClient(r.conn, r.chans, r.reqs)}, nil
	}
}

// parseJumpHost splits "user@host:port"; user and port are optional.
func parseJumpHost(spec string) (user, host string, port int) {
	spec = strings.TrimSpace(spec)
	if i := strings.Index(spec, "@"); i >= 0 {
		user, spec = spec[:i], spec[i+1:]
	}
	if h, p, err := net.SplitHostPort(spec); err == nil {
		port, _ = strconv.Atoi(p)
		return user, h, port
	}
	return user, spec, 0
}

// RunCommand runs command in a new session. A non-zero exit status is
// reported in Output, not as an error. When ctx ends the remote process is
// sent SIGKILL and the session is closed.
func (c *Client) RunCommand(ctx context.Context, command string) (Output, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr syncBuffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return Output{ExitCode: -1}, ctx.Err()
	case err := <-done:
		out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		var exitErr *ssh.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			out.ExitCode = exitErr.ExitStatus()
		default:
			out.ExitCode = -1
			return out, err
		}
		return out, nil
	}
}

// SSHClient exposes the underlying connection, e.g. for SFTP.
func (c *Client) SSHClient() *ssh.Client {
	return c.conn
}

// Host returns the host this client dialled.
func (c *Client) Host() string {
	return c.host
}

// Close closes the connection, then any jump hosts innermost first.
func (c *Client) Close() error {
	var firstErr error
	if c.conn != nil {
		firstErr = c.conn.Close()
	}
	for i := len(c.jumps) - 1; i >= 0; i-- {
		if err := c.jumps[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// clientConfig resolves the address and x/crypto config for host. Values
// already set on conf win over ~/.ssh/config.
func clientConfig(host string, conf ClientConfig) (string, *ssh.ClientConfig, error) {
	user := firstNonEmpty(conf.User, sshconfig.Get(host, "User"), os.Getenv("USER"), "root")

	port := conf.Port
	if port == 0 {
		port, _ = strconv.Atoi(sshconfig.Get(host, "Port"))
	}
	if port == 0 {
		port = 22
	}

	callback, err := hostKeyCallback(conf)
	if err != nil {
		return "", nil, fmt.Errorf("host key callback: %w", err)
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods(host, conf),
		HostKeyCallback: callback,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// authMethods builds the auth chain: agent, then key files, then password.
func authMethods(host string, conf ClientConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if m := agentAuth(); m != nil {
		methods = append(methods, m)
	}

	keys := conf.IdentityFiles
	if len(keys) == 0 {
		keys = defaultKeyFiles(host)
	}
	var signers []ssh.Signer
	for _, path := range keys {
		if s := loadSigner(path); s != nil {
			signers = append(signers, s)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if conf.Password != "" {
		methods = append(methods, ssh.Password(conf.Password))
	}
	return methods
}

// sharedAgent is a process-wide agent connection. A mutex rather than
// sync.Once so a failed dial is retried on the next call.
var sharedAgent struct {
	mu     sync.Mutex
	conn   net.Conn
	client agent.ExtendedAgent
}

// CloseAgent drops the shared agent connection, if any.
func CloseAgent() {
	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()
	if sharedAgent.conn != nil {
		sharedAgent.conn.Close()
		sharedAgent.conn, sharedAgent.client = nil, nil
	}
}

func agentAuth() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}

	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()

	if sharedAgent.client != nil {
		keys, err := sharedAgent.client.List()
		if err == nil {
			if len(keys) == 0 {
				return nil
			}
			return ssh.PublicKeysCallback(sharedAgent.client.Signers)
		}
		// Stale socket.
		sharedAgent.conn.Close()
		sharedAgent.conn, sharedAgent.client = nil, nil
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	sharedAgent.conn = conn
	sharedAgent.client = agent.NewClient(conn)

	if keys, err := sharedAgent.client.List(); err != nil || len(keys) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(sharedAgent.client.Signers)
}

func defaultKeyFiles(host string) []string {
	var files []string
	exists := func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	}

	if id := sshconfig.Get(host, "IdentityFile"); id != "" {
		if p := pathutil.ExpandHome(id); exists(p) {
			files = append(files, p)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return files
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		if p := filepath.Join(home, ".ssh", name); exists(p) {
			files = append(files, p)
		}
	}
	return files
}

func loadSigner(path string) ssh.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return signer
}

func hostKeyCallback(conf ClientConfig) (ssh.HostKeyCallback, error) {
	if conf.HostKeyCallback != nil {
		return conf.HostKeyCallback, nil
	}
	if conf.AcceptUnknownHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("home dir: %w", err)
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no known_hosts file found at %s; use --insecure to skip host key verification", path)
	}
	return knownhosts.New(path)
}

// syncBuffer collects session output written from x/crypto's copy goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}
