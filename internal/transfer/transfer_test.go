package transfer_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/agent462/sweep/internal/executor"
	sweepssh "github.com/agent462/sweep/internal/ssh"
	"github.com/agent462/sweep/internal/sshtest"
	"github.com/agent462/sweep/internal/transfer"
)

func dialTestServer(t *testing.T, srv *sshtest.Server, keyPath string) *sweepssh.Client {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")
	client, err := sweepssh.Dial(context.Background(), "127.0.0.1", sweepssh.ClientConfig{
		User:            "testuser",
		Port:            srv.Port,
		IdentityFiles:   []string{keyPath},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func writeRemote(t *testing.T, root, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(root, name)
	if err := os.WriteFile(p, content, 0644); err != nil {
		t.Fatalf("write remote file: %v", err)
	}
	return p
}

func TestPullFile(t *testing.T) {
	sftpRoot := t.TempDir()
	pubKey, keyPath := sshtest.GenerateKey(t)
	content := []byte("remote file content for pull test\n")
	remotePath := writeRemote(t, sftpRoot, "remote.txt", content)

	srv := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(sftpRoot))
	client := dialTestServer(t, srv, keyPath)

	localDir := t.TempDir()
	var progressCalls int
	progressFn := func(host string, transferred, total int64) {
		progressCalls++
		if total != int64(len(content)) {
			t.Errorf("total = %d, want %d", total, len(content))
		}
	}

	got, err := transfer.PullFile(context.Background(), client.SSHClient(), remotePath, localDir, "testhost", progressFn)
	if err != nil {
		t.Fatalf("PullFile: %v", err)
	}

	if got.Bytes != int64(len(content)) {
		t.Errorf("bytes = %d, want %d", got.Bytes, len(content))
	}
	sum := sha256.Sum256(content)
	if got.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum = %s", got.Checksum)
	}
	wantPath := filepath.Join(localDir, "testhost", "remote.txt")
	if got.LocalPath != wantPath {
		t.Errorf("local path = %s, want %s", got.LocalPath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read local file: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("local content = %q, want %q", data, content)
	}
	if progressCalls == 0 {
		t.Error("progress callback was never called")
	}
}

func TestPullFile_UnsafeHostName(t *testing.T) {
	sftpRoot := t.TempDir()
	pubKey, keyPath := sshtest.GenerateKey(t)
	remotePath := writeRemote(t, sftpRoot, "hosts", []byte("127.0.0.1 localhost\n"))

	srv := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(sftpRoot))
	client := dialTestServer(t, srv, keyPath)

	localDir := t.TempDir()
	got, err := transfer.PullFile(context.Background(), client.SSHClient(), remotePath, localDir, "../evil", nil)
	if err != nil {
		t.Fatalf("PullFile: %v", err)
	}
	if filepath.Dir(filepath.Dir(got.LocalPath)) != localDir {
		t.Errorf("file escaped the destination: %s", got.LocalPath)
	}
}

func TestPullFile_Errors(t *testing.T) {
	sftpRoot := t.TempDir()
	pubKey, keyPath := sshtest.GenerateKey(t)
	srv := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(sftpRoot))
	client := dialTestServer(t, srv, keyPath)

	tests := []struct {
		name   string
		remote string
	}{
		{"missing", filepath.Join(sftpRoot, "nope.txt")},
		{"directory", sftpRoot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transfer.PullFile(context.Background(), client.SSHClient(), tt.remote, t.TempDir(), "h", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if executor.KindOf(err) != executor.KindRemoteExecution {
				t.Errorf("kind = %v, want RemoteExecutionError", executor.KindOf(err))
			}
		})
	}
}

func TestPullFile_CancelledContext(t *testing.T) {
	sftpRoot := t.TempDir()
	pubKey, keyPath := sshtest.GenerateKey(t)
	remotePath := writeRemote(t, sftpRoot, "big", make([]byte, 256*1024))
	srv := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(sftpRoot))
	client := dialTestServer(t, srv, keyPath)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	localDir := t.TempDir()
	if _, err := transfer.PullFile(ctx, client.SSHClient(), remotePath, localDir, "h", nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := os.Stat(filepath.Join(localDir, "h", "big")); !os.IsNotExist(err) {
		t.Errorf("partial file should be removed, stat err = %v", err)
	}
}

func TestPullFile_FailedVerificationRemovesLocalFile(t *testing.T) {
	content := []byte("listen 8080\n")
	tests := []struct {
		name string
		// change runs once the first read is complete.
		change func(t *testing.T, remote string)
	}{
		{"checksum mismatch", func(t *testing.T, remote string) {
			if err := os.WriteFile(remote, []byte("LISTEN 9090\n"), 0644); err != nil {
				t.Error(err)
			}
		}},
		{"remote file gone", func(t *testing.T, remote string) {
			if err := os.Remove(remote); err != nil {
				t.Error(err)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sftpRoot := t.TempDir()
			pubKey, keyPath := sshtest.GenerateKey(t)
			remotePath := writeRemote(t, sftpRoot, "app.conf", content)
			srv := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(sftpRoot))
			client := dialTestServer(t, srv, keyPath)

			progressFn := func(host string, transferred, total int64) {
				if transferred == total {
					tt.change(t, remotePath)
				}
			}

			localDir := t.TempDir()
			got, err := transfer.PullFile(context.Background(), client.SSHClient(), remotePath, localDir, "h", progressFn)
			if err == nil {
				t.Fatal("expected verification to fail")
			}
			if got.LocalPath != "" {
				t.Errorf("local path = %q for a rejected copy", got.LocalPath)
			}
			if _, err := os.Stat(filepath.Join(localDir, "h", "app.conf")); !os.IsNotExist(err) {
				t.Errorf("unverified file should be removed, stat err = %v", err)
			}
		})
	}
}

func TestPullOperation(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)

	rootA, rootB := t.TempDir(), t.TempDir()
	writeRemote(t, rootA, "os-release", []byte("ID=debian\n"))
	writeRemote(t, rootB, "os-release", []byte("ID=ubuntu\n"))
	a := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(rootA))
	b := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(rootB))
	empty := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(t.TempDir()))

	pool := sweepssh.NewPool(sweepssh.Settings{
		Base: sweepssh.ClientConfig{User: "testuser", HostKeyCallback: gossh.InsecureIgnoreHostKey()},
		Hosts: map[string]sweepssh.HostConfig{
			"a": {Hostname: "127.0.0.1", Port: a.Port, IdentityFile: keyPath},
			"b": {Hostname: "127.0.0.1", Port: b.Port, IdentityFile: keyPath},
			"c": {Hostname: "127.0.0.1", Port: empty.Port, IdentityFile: keyPath},
		},
	}, slog.New(slog.DiscardHandler))
	defer pool.Close()

	// Relative paths resolve against each server's working directory.
	var progress atomic.Int32
	op := transfer.PullOperation(pool, "os-release", t.TempDir(), func(string, int64, int64) { progress.Add(1) })

	rs, err := executor.Run(context.Background(), executor.Targets("c", "b", "a"), op, 2, 5*time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rs) != 3 {
		t.Fatalf("expected 3 results, got %d", len(rs))
	}

	for host, want := range map[string]string{"a": "ID=debian\n", "b": "ID=ubuntu\n"} {
		r, ok := rs.Lookup(host)
		if !ok || !r.Success {
			t.Fatalf("%s: %+v", host, r)
		}
		data, err := os.ReadFile(r.Payload.LocalPath)
		if err != nil {
			t.Fatalf("%s: %v", host, err)
		}
		if string(data) != want {
			t.Errorf("%s content = %q, want %q", host, data, want)
		}
	}

	c, _ := rs.Lookup("c")
	if c.Success || c.Kind != executor.KindRemoteExecution {
		t.Errorf("c = %+v, want RemoteExecutionError", c)
	}
	if progress.Load() == 0 {
		t.Error("progress callback was never called")
	}
}

func TestPullOperation_OneShotClientsClosed(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)
	root := t.TempDir()
	writeRemote(t, root, "motd", []byte("welcome\n"))
	srv := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP(root))

	runner := sweepssh.NewRunner(sweepssh.Settings{
		Base: sweepssh.ClientConfig{User: "testuser", HostKeyCallback: gossh.InsecureIgnoreHostKey()},
		Hosts: map[string]sweepssh.HostConfig{
			"h": {Hostname: "127.0.0.1", Port: srv.Port, IdentityFile: keyPath},
		},
	})

	op := transfer.PullOperation(runner, "motd", t.TempDir(), nil)
	for i := 0; i < 2; i++ {
		if _, err := op(context.Background(), executor.HostTarget{Name: "h"}); err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
	}
	if n := srv.Connections(); n != 2 {
		t.Errorf("connections = %d, want one per pull", n)
	}
}
