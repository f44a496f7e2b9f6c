package transfer

import (
	"context"

	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/ssh"
)

// ClientProvider returns a connected SSH client for a host. Implemented by
// ssh.Pool and ssh.Runner.
type ClientProvider interface {
	GetClient(ctx context.Context, host executor.HostTarget) (*ssh.Client, error)
}

// ClientCloser is implemented by providers whose clients are one-shot and
// must be closed after use. Pooled clients are left open.
type ClientCloser interface {
	CloseClient(client *ssh.Client) error
}

// PullOperation returns an Operation that copies remotePath from each host
// into localDir/<host>/. progressFn may be nil.
func PullOperation(provider ClientProvider, remotePath, localDir string, progressFn ProgressFunc) executor.Operation[Fetched] {
	return func(ctx context.Context, host executor.HostTarget) (Fetched, error) {
		client, err := provider.GetClient(ctx, host)
		if err != nil {
			return Fetched{}, err
		}
		if closer, ok := provider.(ClientCloser); ok {
			defer closer.CloseClient(client)
		}
		return PullFile(ctx, client.SSHClient(), remotePath, localDir, host.Name, progressFn)
	}
}
