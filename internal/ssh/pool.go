package ssh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/agent462/sweep/internal/executor"
)

// Pool keeps one connection per host and reuses it across commands.
// Concurrent first calls for a host share a single dial. A command that
// fails on a stale connection is retried once on a fresh one.
type Pool struct {
	settings Settings
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	dials   singleflight.Group
}

// NewPool creates an empty pool.
func NewPool(s Settings, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		settings: s,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// Run runs command on host over the cached connection, dialling first if
// needed.
func (p *Pool) Run(ctx context.Context, host executor.HostTarget, command string) (Output, error) {
	var out Output
	attempt := 0

	op := func() error {
		attempt++
		if attempt > 1 {
			p.logger.Debug("reconnecting", "host", host.Name)
			p.evict(host.Name)
		}

		client, err := p.GetClient(ctx, host)
		if err != nil {
			// Dial errors are already classified and a second dial rarely helps.
			return backoff.Permanent(err)
		}
		o, err := client.RunCommand(ctx, command)
		if err != nil {
			out = o
			if !isReconnectable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = o
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(reconnectBackOff(), 1), ctx))
	if err != nil {
		if out.ExitCode == 0 {
			out.ExitCode = -1
		}
		return out, sessionError(err)
	}
	return out, nil
}

func reconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// GetClient returns the cached connection for host, dialling it if needed.
// The pool owns the client; callers must not close it.
func (p *Pool) GetClient(ctx context.Context, host executor.HostTarget) (*Client, error) {
	if c := p.cached(host.Name); c != nil {
		return c, nil
	}

	v, err, _ := p.dials.Do(host.Name, func() (any, error) {
		if c := p.cached(host.Name); c != nil {
			return c, nil
		}
		c, err := p.settings.dial(ctx, host)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.clients[host.Name] = c
		p.mu.Unlock()
		p.logger.Debug("connected", "host", host.Name)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (p *Pool) cached(host string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients[host]
}

func (p *Pool) evict(host string) {
	p.mu.Lock()
	c, ok := p.clients[host]
	delete(p.clients, host)
	p.mu.Unlock()

	if ok {
		c.Close()
	}
}

// IsConnected reports whether host has a cached connection.
func (p *Pool) IsConnected(host string) bool {
	return p.cached(host) != nil
}

// Close closes every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// isReconnectable reports whether err looks like a dropped connection that
// a fresh dial could fix. Auth and context errors never are.
func isReconnectable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}
