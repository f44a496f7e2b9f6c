package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/agent462/sweep/internal/executor"
)

func TestIsReconnectable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"wrapped context canceled", fmt.Errorf("run: %w", context.Canceled), false},
		{"EOF", io.EOF, true},
		{"unexpected EOF", io.ErrUnexpectedEOF, true},
		{"wrapped EOF", fmt.Errorf("session: %w", io.EOF), true},
		{"net.OpError", &net.OpError{Op: "read", Err: errors.New("reset")}, true},
		{"closed connection", errors.New("use of closed network connection"), true},
		{"net.ErrClosed", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"auth failure", errors.New("ssh: handshake failed: ssh: unable to authenticate"), false},
		{"generic error", errors.New("something went wrong"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := isReconnectable(tc.err)
			if got != tc.want {
				t.Errorf("isReconnectable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestSettingsResolve(t *testing.T) {
	t.Setenv("SWEEP_TEST_PW", "hunter2")

	s := Settings{
		Base: ClientConfig{User: "base", Port: 22},
		Hosts: map[string]HostConfig{
			"web-01": {Hostname: "10.0.0.5", User: "deploy", Port: 2222, IdentityFile: "/keys/web"},
		},
		Credentials: map[string]Credential{
			"ops": {User: "ops", IdentityFile: "/keys/ops", PasswordEnv: "SWEEP_TEST_PW"},
		},
	}

	tests := []struct {
		name     string
		host     executor.HostTarget
		wantAddr string
		wantUser string
		wantPort int
		wantKey  string
		wantPW   string
		wantErr  bool
	}{
		{"base only", executor.HostTarget{Name: "db-01"}, "db-01", "base", 22, "", "", false},
		{"host override", executor.HostTarget{Name: "web-01"}, "10.0.0.5", "deploy", 2222, "/keys/web", "", false},
		{"credential wins", executor.HostTarget{Name: "web-01", CredentialRef: "ops"}, "10.0.0.5", "ops", 2222, "/keys/ops", "hunter2", false},
		{"unknown credential", executor.HostTarget{Name: "db-01", CredentialRef: "nope"}, "", "", 0, "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, conf, err := s.resolve(tc.host)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if addr != tc.wantAddr {
				t.Errorf("addr = %q, want %q", addr, tc.wantAddr)
			}
			if conf.User != tc.wantUser {
				t.Errorf("user = %q, want %q", conf.User, tc.wantUser)
			}
			if conf.Port != tc.wantPort {
				t.Errorf("port = %d, want %d", conf.Port, tc.wantPort)
			}
			gotKey := ""
			if len(conf.IdentityFiles) > 0 {
				gotKey = conf.IdentityFiles[0]
			}
			if gotKey != tc.wantKey {
				t.Errorf("key = %q, want %q", gotKey, tc.wantKey)
			}
			if conf.Password != tc.wantPW {
				t.Errorf("password = %q, want %q", conf.Password, tc.wantPW)
			}
		})
	}
}

func TestSessionError(t *testing.T) {
	tests := []struct {
		err  error
		want executor.ErrorKind
	}{
		{io.EOF, executor.KindConnectivity},
		{context.DeadlineExceeded, executor.KindTimeout},
		{context.Canceled, executor.KindCancelled},
		{errors.New("ssh: could not start subsystem"), executor.KindRemoteExecution},
		{executor.Wrap(executor.KindAuth, errors.New("denied")), executor.KindAuth},
	}
	for _, tc := range tests {
		if got := executor.KindOf(sessionError(tc.err)); got != tc.want {
			t.Errorf("sessionError(%v) kind = %s, want %s", tc.err, got, tc.want)
		}
	}
	if sessionError(nil) != nil {
		t.Error("sessionError(nil) should be nil")
	}
}
