// Package transfer collects files from hosts over SFTP.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/pathutil"
)

// Fetched describes one file copied from a host.
type Fetched struct {
	LocalPath string `json:"local_path" yaml:"local_path"`
	Bytes     int64  `json:"bytes" yaml:"bytes"`
	Checksum  string `json:"sha256" yaml:"sha256"`
}

// PullFile downloads remotePath into localDir/<host>/<base name>. The
// SHA-256 of the received bytes is compared with a second read of the
// remote file. The local file is removed if the copy or the check fails.
func PullFile(ctx context.Context, sshClient *ssh.Client, remotePath, localDir, host string, progressFn ProgressFunc) (Fetched, error) {
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return Fetched{}, executor.Wrap(executor.KindRemoteExecution, fmt.Errorf("sftp client: %w", err))
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return Fetched{}, executor.Wrap(executor.KindRemoteExecution, fmt.Errorf("open remote file: %w", err))
	}
	defer remoteFile.Close()

	stat, err := remoteFile.Stat()
	if err != nil {
		return Fetched{}, executor.Wrap(executor.KindRemoteExecution, fmt.Errorf("stat remote file: %w", err))
	}
	if stat.IsDir() {
		return Fetched{}, executor.Errorf(executor.KindRemoteExecution, "%s is a directory", remotePath)
	}

	hostDir := filepath.Join(localDir, pathutil.SafeName(host))
	if err := os.MkdirAll(hostDir, 0755); err != nil {
		return Fetched{}, executor.Wrap(executor.KindInternal, fmt.Errorf("create local dir: %w", err))
	}

	// remotePath is always a Unix path on the remote host.
	localPath := filepath.Join(hostDir, path.Base(remotePath))
	localFile, err := os.Create(localPath)
	if err != nil {
		return Fetched{}, executor.Wrap(executor.KindInternal, fmt.Errorf("create local file: %w", err))
	}

	hasher := sha256.New()
	pw := newProgressWriter(localFile, host, stat.Size(), progressFn)
	written, err := copyWithContext(ctx, io.MultiWriter(pw, hasher), remoteFile)
	if cerr := localFile.Close(); err == nil && cerr != nil {
		err = executor.Wrap(executor.KindInternal, cerr)
	}
	if err != nil {
		os.Remove(localPath)
		return Fetched{Bytes: written}, fmt.Errorf("copy: %w", err)
	}

	got := Fetched{LocalPath: localPath, Bytes: written, Checksum: hex.EncodeToString(hasher.Sum(nil))}

	// An unverified copy is not kept.
	remoteChecksum, err := remoteSHA256(ctx, sftpClient, remotePath)
	if err != nil {
		os.Remove(localPath)
		return Fetched{Bytes: written}, fmt.Errorf("remote checksum verification failed: %w", err)
	}
	if remoteChecksum != got.Checksum {
		os.Remove(localPath)
		return Fetched{Bytes: written}, executor.Errorf(executor.KindRemoteExecution, "checksum mismatch: local=%s remote=%s", got.Checksum, remoteChecksum)
	}
	return got, nil
}

// remoteSHA256 hashes a remote file by reading it back over SFTP, so the
// host needs no sha256sum binary.
func remoteSHA256(ctx context.Context, sftpClient *sftp.Client, remotePath string) (string, error) {
	f, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", executor.Wrap(executor.KindRemoteExecution, fmt.Errorf("open remote file for checksum: %w", err))
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := copyWithContext(ctx, hasher, f); err != nil {
		return "", fmt.Errorf("read remote file for checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// copyWithContext copies from src to dst, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, executor.Wrap(executor.KindInternal, writeErr)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, executor.Wrap(executor.KindRemoteExecution, readErr)
		}
	}
}
