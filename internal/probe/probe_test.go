package probe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agent462/sweep/internal/config"
	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/parser"
	"github.com/agent462/sweep/internal/ssh"
)

// mockRunner answers every command with handler.
type mockRunner struct {
	handler func(host, cmd string) (ssh.Output, error)
}

func (m *mockRunner) Run(_ context.Context, host executor.HostTarget, cmd string) (ssh.Output, error) {
	return m.handler(host.Name, cmd)
}

var expectedBuiltins = []string{
	"disk",
	"error-log",
	"kernel",
	"listening-ports",
	"login-users",
	"memory",
	"os-version",
	"reboot-check",
	"service-status",
	"uptime",
}

func TestBuiltins_AllPresent(t *testing.T) {
	builtins := Builtins()
	if len(builtins) != len(expectedBuiltins) {
		t.Errorf("expected %d built-in probes, got %d", len(expectedBuiltins), len(builtins))
	}
	for _, name := range expectedBuiltins {
		p, ok := builtins[name]
		if !ok {
			t.Errorf("missing built-in probe %q", name)
			continue
		}
		if p.Name != name || p.Description == "" || p.Command == "" || !p.Builtin {
			t.Errorf("probe %q is incomplete: %+v", name, p)
		}
		if p.Parser != "" {
			if _, err := parser.Resolve(p.Parser, nil); err != nil {
				t.Errorf("probe %q names unknown parser: %v", name, err)
			}
		}
	}
	if IsBuiltin("") || IsBuiltin("nonexistent") {
		t.Error("IsBuiltin should reject unknown names")
	}
}

func TestResolve(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Probes = map[string]config.Probe{
		"uptime": {Command: "cat /proc/uptime"},
		"nginx":  {Description: "nginx status", Command: "systemctl is-active nginx", Parser: "service"},
	}

	p, err := Resolve("uptime", cfg)
	if err != nil {
		t.Fatalf("Resolve(uptime): %v", err)
	}
	if p.Command != "cat /proc/uptime" || p.Builtin {
		t.Errorf("configured probe should override built-in, got %+v", p)
	}

	p, err = Resolve("disk", cfg)
	if err != nil {
		t.Fatalf("Resolve(disk): %v", err)
	}
	if !p.Builtin || p.Command != "df -h /" {
		t.Errorf("Resolve(disk) = %+v", p)
	}

	p, err = Resolve("nginx", cfg)
	if err != nil || p.Parser != "service" {
		t.Errorf("Resolve(nginx) = %+v, %v", p, err)
	}

	_, err = Resolve("missing", cfg)
	if err == nil {
		t.Fatal("expected error for unknown probe")
	}
	if !strings.Contains(err.Error(), "nginx") || !strings.Contains(err.Error(), "kernel") {
		t.Errorf("error should list available probes, got %v", err)
	}
}

func TestAll_SortedAndMerged(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Probes = map[string]config.Probe{"aaa": {Command: "true"}}

	all := All(cfg)
	if len(all) != len(expectedBuiltins)+1 {
		t.Fatalf("expected %d probes, got %d", len(expectedBuiltins)+1, len(all))
	}
	if all[0].Name != "aaa" {
		t.Errorf("first probe = %q, want aaa", all[0].Name)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Errorf("probes not sorted: %q before %q", all[i-1].Name, all[i].Name)
		}
	}
	if n := len(All(nil)); n != len(expectedBuiltins) {
		t.Errorf("All(nil) returned %d probes", n)
	}
}

func TestOperation_Success(t *testing.T) {
	runner := &mockRunner{handler: func(host, cmd string) (ssh.Output, error) {
		if cmd != "df -h /" {
			t.Errorf("unexpected command %q", cmd)
		}
		return ssh.Output{Stdout: []byte("Filesystem Size Used Avail Use% Mounted on\n/dev/sda1 50G 20G 28G 42% /\n")}, nil
	}}
	p := Builtins()["disk"]
	fp, err := parser.Resolve(p.Parser, nil)
	if err != nil {
		t.Fatal(err)
	}

	rep, err := Operation(runner, p, fp)(context.Background(), executor.HostTarget{Name: "web1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Probe != "disk" || rep.Command != "df -h /" || rep.ExitCode != 0 {
		t.Errorf("report = %+v", rep)
	}
	if v, ok := rep.Field("use_pct"); !ok || v != "42%" {
		t.Errorf("use_pct = %q, %v", v, ok)
	}
	if _, ok := rep.Field("nope"); ok {
		t.Error("Field should miss unknown names")
	}
}

func TestOperation_NoParser(t *testing.T) {
	runner := &mockRunner{handler: func(string, string) (ssh.Output, error) {
		return ssh.Output{Stdout: []byte("6.1.0\n")}, nil
	}}
	rep, err := Operation(runner, Adhoc("uname -r"), nil)(context.Background(), executor.HostTarget{Name: "h"})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Probe != AdhocName || rep.Stdout != "6.1.0\n" || rep.Fields != nil {
		t.Errorf("report = %+v", rep)
	}
}

func TestOperation_NonZeroExit(t *testing.T) {
	tests := []struct {
		name    string
		out     ssh.Output
		wantMsg string
	}{
		{"stderr first line", ssh.Output{Stderr: []byte("\nno such unit\nmore\n"), ExitCode: 3}, "exit status 3: no such unit"},
		{"stdout fallback", ssh.Output{Stdout: []byte("inactive\n"), ExitCode: 3}, "exit status 3: inactive"},
		{"silent", ssh.Output{ExitCode: 1}, "exit status 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{handler: func(string, string) (ssh.Output, error) { return tt.out, nil }}
			_, err := Operation(runner, Adhoc("false"), nil)(context.Background(), executor.HostTarget{Name: "h"})
			if err == nil {
				t.Fatal("expected error")
			}
			if executor.KindOf(err) != executor.KindRemoteExecution {
				t.Errorf("kind = %v, want RemoteExecutionError", executor.KindOf(err))
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestOperation_TransportError(t *testing.T) {
	connErr := executor.Errorf(executor.KindAuth, "unable to authenticate")
	runner := &mockRunner{handler: func(string, string) (ssh.Output, error) {
		return ssh.Output{ExitCode: -1}, connErr
	}}
	_, err := Operation(runner, Adhoc("true"), nil)(context.Background(), executor.HostTarget{Name: "h"})
	if !errors.Is(err, connErr) {
		t.Errorf("err = %v, want the runner's error", err)
	}
}
