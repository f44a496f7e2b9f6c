package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"tagged auth", Wrap(KindAuth, errors.New("handshake failed")), KindAuth},
		{"tagged deep in chain", fmt.Errorf("dial: %w", Errorf(KindConnectivity, "refused")), KindConnectivity},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindCancelled},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, KindConnectivity},
		{"dns error", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, KindConnectivity},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", Name: "slow.invalid", IsTimeout: true}, KindTimeout},
		{"econnrefused", &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}, KindConnectivity},
		{"plain", errors.New("exit status 2"), KindRemoteExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(KindAuth, nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(KindInternal, base)
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to its cause")
	}
	if err.Error() != "boom" {
		t.Errorf("Error() = %q, want boom", err.Error())
	}
}

func TestParseErrorKind(t *testing.T) {
	tests := map[string]ErrorKind{
		"AuthError":         KindAuth,
		"auth":              KindAuth,
		"TIMEOUT":           KindTimeout,
		"remoteexecution":   KindRemoteExecution,
		"ConnectivityError": KindConnectivity,
		"cancelled":         KindCancelled,
		"":                  KindNone,
		"  InternalError  ": KindInternal,
	}
	for in, want := range tests {
		got, err := ParseErrorKind(in)
		if err != nil {
			t.Errorf("ParseErrorKind(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseErrorKind(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseErrorKind("flaky"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestErrorKind_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]ErrorKind{"kind": KindTimeout})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"kind":"TimeoutError"}` {
		t.Errorf("marshal = %s", data)
	}

	var out map[string]ErrorKind
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["kind"] != KindTimeout {
		t.Errorf("round trip = %s", out["kind"])
	}
}

func TestArgumentError_Message(t *testing.T) {
	err := &ArgumentError{Field: "concurrency", Value: 0, Message: "must be at least 1"}
	want := `invalid argument "concurrency" (value: 0): must be at least 1`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
