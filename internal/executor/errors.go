package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies why a host did not produce a payload.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindConnectivity
	KindAuth
	KindTimeout
	KindRemoteExecution
	KindInternal
	KindCancelled
)

var kindNames = map[ErrorKind]string{
	KindNone:            "",
	KindConnectivity:    "ConnectivityError",
	KindAuth:            "AuthError",
	KindTimeout:         "TimeoutError",
	KindRemoteExecution: "RemoteExecutionError",
	KindInternal:        "InternalError",
	KindCancelled:       "Cancelled",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// MarshalText renders the kind by name so exporters never see raw integers.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	parsed, err := ParseErrorKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseErrorKind looks up a kind by name, case-insensitively. The "Error"
// suffix is optional, so "auth" and "AuthError" both resolve.
func ParseErrorKind(s string) (ErrorKind, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	if want == "" {
		return KindNone, nil
	}
	for k, name := range kindNames {
		n := strings.ToLower(name)
		if n == want || strings.TrimSuffix(n, "error") == want {
			return k, nil
		}
	}
	return KindNone, fmt.Errorf("unknown error kind %q", s)
}

// Error attaches an ErrorKind to an error returned by an Operation.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with kind. It returns nil if err is nil.
func Wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf formats an error and tags it with kind.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind attached anywhere in err's chain, or KindNone.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// ArgumentError reports invalid Run arguments. It is the only error Run
// returns, and it is returned before any Task is created.
type ArgumentError struct {
	Field   string
	Value   any
	Message string
}

func (e *ArgumentError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid argument %q (value: %v): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Message)
}

// classify maps an Operation error to a kind. Kinds attached with Wrap win;
// untagged errors fall back to inspecting the standard network and context
// errors, and anything else is treated as a failure on the remote side.
func classify(err error) ErrorKind {
	if k := KindOf(err); k != KindNone {
		return k
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return KindConnectivity
	}

	return KindRemoteExecution
}
