package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/agent462/sweep/internal/executor"
)

// ConnectError is a failure to reach or log in to a host, with a hint for
// the operator.
type ConnectError struct {
	Host string
	Kind executor.ErrorKind
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("%s: %v (hint: %s)", e.Host, e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ClassifyError tags a dial or handshake error with its executor kind and
// wraps it in a ConnectError. Context errors pass through with their
// Timeout or Cancelled kind.
func ClassifyError(host string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return executor.Wrap(executor.KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return executor.Wrap(executor.KindCancelled, err)
	}

	kind, hint := diagnose(host, err)
	return executor.Wrap(kind, &ConnectError{Host: host, Kind: kind, Err: err, Hint: hint})
}

func diagnose(host string, err error) (executor.ErrorKind, string) {
	msg := err.Error()

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) > 0 {
			return executor.KindAuth, fmt.Sprintf("host key changed; remove the old key with: ssh-keygen -R %s", host)
		}
		return executor.KindAuth, fmt.Sprintf("host is not in known_hosts; use --insecure or connect once with: ssh %s", host)
	}
	if strings.Contains(msg, "no known_hosts") {
		return executor.KindAuth, fmt.Sprintf("use --insecure or connect once with: ssh %s", host)
	}

	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) ||
		strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		return executor.KindAuth, fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", host)
	}
	if strings.Contains(msg, "unknown credential") {
		return executor.KindAuth, "add the credential to the credentials section of the config file"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return executor.KindTimeout, "the host did not answer in time"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(msg, "no such host") {
		return executor.KindConnectivity, "verify hostname is correct"
	}
	if strings.Contains(msg, "connection refused") {
		return executor.KindConnectivity, "verify SSH daemon is running on the target host"
	}
	if strings.Contains(msg, "no route to host") || strings.Contains(msg, "network is unreachable") {
		return executor.KindConnectivity, "check routing and firewalls between here and the host"
	}
	if errors.Is(err, io.EOF) || strings.Contains(msg, "handshake failed") {
		return executor.KindConnectivity, "the server closed the connection during the handshake"
	}
	return executor.KindConnectivity, ""
}

// sessionError tags an error raised after the connection was up.
func sessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case executor.KindOf(err) != executor.KindNone:
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return executor.Wrap(executor.KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return executor.Wrap(executor.KindCancelled, err)
	case isReconnectable(err):
		return executor.Wrap(executor.KindConnectivity, err)
	}
	return executor.Wrap(executor.KindRemoteExecution, err)
}
