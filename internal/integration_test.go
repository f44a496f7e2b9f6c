package internal_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/export"
	"github.com/agent462/sweep/internal/grouper"
	"github.com/agent462/sweep/internal/probe"
	"github.com/agent462/sweep/internal/selector"
	"github.com/agent462/sweep/internal/ssh"
	"github.com/agent462/sweep/internal/sshtest"
)

// settings maps logical host names to in-process servers on 127.0.0.1.
func settings(keyPath string, ports map[string]int) ssh.Settings {
	hosts := make(map[string]ssh.HostConfig, len(ports))
	for name, port := range ports {
		hosts[name] = ssh.HostConfig{Hostname: "127.0.0.1", Port: port, IdentityFile: keyPath}
	}
	return ssh.Settings{
		Base:  ssh.ClientConfig{User: "testuser", HostKeyCallback: gossh.InsecureIgnoreHostKey()},
		Hosts: hosts,
	}
}

func runProbe(t *testing.T, runner ssh.CommandRunner, p probe.Probe, hosts ...string) executor.ResultSet[probe.Report] {
	t.Helper()
	rs, err := executor.Run(context.Background(), executor.Targets(hosts...), probe.Operation(runner, p, nil), 10, 5*time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rs
}

// TestFullPipeline_GroupedOutput covers servers -> pool -> executor ->
// grouper -> selector -> grouped exporter.
func TestFullPipeline_GroupedOutput(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)

	bookworm := sshtest.Reply("PRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\n", "", 0)
	bullseye := sshtest.Reply("PRETTY_NAME=\"Debian GNU/Linux 11 (bullseye)\"\n", "", 0)
	s1 := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithHandler(bookworm))
	s2 := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithHandler(bookworm))
	s3 := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithHandler(bullseye))

	pool := ssh.NewPool(settings(keyPath, map[string]int{
		"pi-garage":     s1.Port,
		"pi-livingroom": s2.Port,
		"pi-workshop":   s3.Port,
	}), slog.New(slog.DiscardHandler))
	defer pool.Close()

	rs := runProbe(t, pool, probe.Builtins()["os-version"], "pi-garage", "pi-livingroom", "pi-workshop")
	for _, r := range rs {
		if !r.Success {
			t.Fatalf("host %s failed: %s", r.HostName, r.Message)
		}
	}

	grouped := grouper.Group(rs)
	if len(grouped.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(grouped.Groups))
	}
	norm := grouped.Norm()
	if norm == nil || len(norm.Hosts) != 2 || !strings.Contains(norm.Stdout, "bookworm") {
		t.Fatalf("norm = %+v", norm)
	}
	outlier := grouped.Groups[1]
	if outlier.IsNorm || len(outlier.Hosts) != 1 || outlier.Hosts[0] != "pi-workshop" {
		t.Fatalf("outlier = %+v", outlier)
	}
	if outlier.Diff == "" {
		t.Error("outlier should have a diff")
	}

	differs, err := selector.Resolve("@differs", &selector.State{AllHosts: rs.Hosts(), Grouped: grouped})
	if err != nil {
		t.Fatal(err)
	}
	if len(differs) != 1 || differs[0] != "pi-workshop" {
		t.Errorf("@differs = %v", differs)
	}

	var buf bytes.Buffer
	exp, err := export.ForReports(export.FormatGrouped, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := exp.Export(&buf, rs); err != nil {
		t.Fatal(err)
	}
	output := buf.String()
	for _, want := range []string{"2 hosts identical", "1 host differs", "3 succeeded"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q, got:\n%s", want, output)
		}
	}
}

// TestFullPipeline_MixedResults has a success, a non-zero exit and an
// unreachable host in one run.
func TestFullPipeline_MixedResults(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)

	active := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithHandler(sshtest.Reply("active\n", "", 0)))
	inactive := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithHandler(sshtest.Reply("inactive\n", "", 3)))

	pool := ssh.NewPool(settings(keyPath, map[string]int{
		"web-01": active.Port,
		"web-02": inactive.Port,
		"web-03": 1,
	}), slog.New(slog.DiscardHandler))
	defer pool.Close()

	rs := runProbe(t, pool, probe.Adhoc("systemctl is-active nginx"), "web-03", "web-02", "web-01")
	if got := rs.Hosts(); strings.Join(got, ",") != "web-01,web-02,web-03" {
		t.Fatalf("hosts = %v", got)
	}

	want := map[string]executor.ErrorKind{
		"web-01": executor.KindNone,
		"web-02": executor.KindRemoteExecution,
		"web-03": executor.KindConnectivity,
	}
	for host, kind := range want {
		r, ok := rs.Lookup(host)
		if !ok {
			t.Fatalf("missing result for %s", host)
		}
		if r.Kind != kind {
			t.Errorf("%s kind = %v, want %v (%s)", host, r.Kind, kind, r.Message)
		}
	}

	if got := export.Summary(rs); got != "1 succeeded, 2 failed (1 ConnectivityError, 1 RemoteExecutionError)" {
		t.Errorf("summary = %q", got)
	}

	grouped := grouper.Group(rs)
	if failed := grouped.FailedHosts(); len(failed) != 2 {
		t.Errorf("failed hosts = %v", failed)
	}
}

// TestFullPipeline_UserAtHostCollision runs the same address under two
// logins and keeps the results apart.
func TestFullPipeline_UserAtHostCollision(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)

	a := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithHandler(sshtest.Reply("output-a\n", "", 0)))
	b := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithHandler(sshtest.Reply("output-b\n", "", 0)))

	runner := ssh.NewRunner(settings(keyPath, map[string]int{
		"admin@server":  a.Port,
		"deploy@server": b.Port,
	}))

	rs := runProbe(t, runner, probe.Adhoc("whoami"), "admin@server", "deploy@server")
	if len(rs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(rs))
	}
	if rs[0].HostName != "admin@server" || rs[0].Payload.Stdout != "output-a\n" {
		t.Errorf("rs[0] = %+v", rs[0])
	}
	if rs[1].HostName != "deploy@server" || rs[1].Payload.Stdout != "output-b\n" {
		t.Errorf("rs[1] = %+v", rs[1])
	}
	if n := len(grouper.Group(rs).Groups); n != 2 {
		t.Errorf("expected 2 groups, got %d", n)
	}
}

// TestFullPipeline_ProxyJump runs a probe through a bastion.
func TestFullPipeline_ProxyJump(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)

	bastion := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithForwardTCP())
	target := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithHandler(sshtest.Reply("behind-bastion\n", "", 0)))

	s := settings(keyPath, map[string]int{"target-host": target.Port})
	hc := s.Hosts["target-host"]
	hc.ProxyJump = fmt.Sprintf("testuser@127.0.0.1:%d", bastion.Port)
	s.Hosts["target-host"] = hc

	rs := runProbe(t, ssh.NewRunner(s), probe.Adhoc("hostname"), "target-host")
	if len(rs) != 1 || !rs[0].Success {
		t.Fatalf("results = %+v", rs)
	}
	if rs[0].Payload.Stdout != "behind-bastion\n" {
		t.Errorf("stdout = %q", rs[0].Payload.Stdout)
	}
}
