package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/agent462/sweep/internal/config"
	"github.com/agent462/sweep/internal/discover"
	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/export"
	"github.com/agent462/sweep/internal/ssh"
	"github.com/agent462/sweep/internal/ui/watch"
)

// targetFlags select the hosts a command runs on.
type targetFlags struct {
	group       string
	cidr        string
	port        int
	dialTimeout time.Duration
}

// hosts resolves the group, the hosts named on the command line and any
// addresses found open in --cidr, in that order.
func (a *app) hosts(ctx context.Context, tf targetFlags, args []string) ([]config.Host, error) {
	var hosts []config.Host
	if tf.group != "" || len(args) > 0 {
		resolved, err := config.ResolveHosts(a.cfg, tf.group, args)
		if err != nil {
			return nil, err
		}
		hosts = resolved
	}

	if tf.cidr != "" {
		found, err := discover.CIDRScan(ctx, tf.cidr, tf.port, a.v.GetInt("concurrency"), tf.dialTimeout, a.v.GetDuration("overall-timeout"))
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", tf.cidr, err)
		}
		a.logger.Debug("discovered hosts", "cidr", tf.cidr, "count", len(found))

		seen := make(map[string]bool, len(hosts))
		for _, h := range hosts {
			seen[h.Name] = true
		}
		for _, f := range found {
			if seen[f.Address] {
				continue
			}
			seen[f.Address] = true
			hosts = append(hosts, config.Host{
				Name:       f.Address,
				Hostname:   f.Address,
				Port:       f.Port,
				Credential: a.cfg.Defaults.Credential,
			})
		}
	}

	if len(hosts) == 0 {
		if tf.cidr != "" {
			return nil, fmt.Errorf("no hosts in %s accepted connections on port %d", tf.cidr, tf.port)
		}
		return nil, fmt.Errorf("no hosts specified: provide a group (-g), --cidr or host names as arguments")
	}
	return hosts, nil
}

// sshSettings builds the transport settings for hosts.
func (a *app) sshSettings(hosts []config.Host) ssh.Settings {
	return ssh.Settings{
		Base:        ssh.ClientConfig{AcceptUnknownHosts: a.v.GetBool("insecure")},
		Hosts:       config.SSHHosts(hosts),
		Credentials: a.cfg.SSHCredentials(),
	}
}

// execute runs op on targets with the configured limits. With watchOn the
// live view is drawn on w while the run is in progress.
func execute[P any](ctx context.Context, a *app, w io.Writer, targets []executor.HostTarget, op executor.Operation[P], watchOn bool) (executor.ResultSet[P], error) {
	opts := []executor.Option{
		executor.WithConcurrency(a.v.GetInt("concurrency")),
		executor.WithTaskTimeout(a.v.GetDuration("timeout")),
		executor.WithOverallTimeout(a.v.GetDuration("overall-timeout")),
		executor.WithLogger(a.logger),
	}

	if watchOn && !export.IsTerminal(w) {
		a.logger.Warn("--watch needs a terminal, running without it")
		watchOn = false
	}
	if !watchOn {
		return executor.New[P](opts...).Run(ctx, targets, op)
	}

	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}

	var rs executor.ResultSet[P]
	err := watch.Run(ctx, w, names, func(ctx context.Context, obs executor.Observer) (string, error) {
		var err error
		rs, err = executor.New[P](append(opts, executor.WithObserver(obs))...).Run(ctx, targets, op)
		if err != nil {
			return "", err
		}
		return export.Summary(rs), nil
	})
	return rs, err
}

// finish maps a completed run onto the command's error.
func finish[P any](rs executor.ResultSet[P]) error {
	if len(rs.Failed()) > 0 {
		return ErrHostsFailed
	}
	return nil
}
