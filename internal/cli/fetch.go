package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/sweep/internal/config"
	"github.com/agent462/sweep/internal/export"
	"github.com/agent462/sweep/internal/ssh"
	"github.com/agent462/sweep/internal/transfer"
)

type fetchFlags struct {
	targetFlags
	dest  string
	watch bool
}

func newFetchCmd(a *app) *cobra.Command {
	var f fetchFlags

	cmd := &cobra.Command{
		Use:   "fetch REMOTE_PATH [hosts...]",
		Short: "Copy a file from every host",
		Long: `Copy one file from every host over SFTP into DEST/<host>/.

The received bytes are checked against a SHA-256 of the remote file. A
file that cannot be read is reported as that host's failure.`,
		Example: `  # Collect nginx configs from the web group
  sweep fetch /etc/nginx/nginx.conf -g web --dest ./configs`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fetch(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f, args[0], args[1:])
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.group, "group", "g", "", "host group from the config file")
	fl.StringVar(&f.cidr, "cidr", "", "also target hosts in this range with --port open")
	fl.IntVar(&f.port, "port", 22, "port scanned with --cidr")
	fl.DurationVar(&f.dialTimeout, "dial-timeout", 2*time.Second, "per-address timeout for --cidr scanning")
	fl.StringVarP(&f.dest, "dest", "d", ".", "local directory to write into")
	fl.BoolVarP(&f.watch, "watch", "w", false, "show live per-host progress")

	return cmd
}

func (a *app) fetch(ctx context.Context, out, errOut io.Writer, f fetchFlags, remotePath string, args []string) error {
	format, err := a.format()
	if err != nil {
		return err
	}
	exp, err := export.New(format, fetchColumns(format), a.exportOptions(out)...)
	if err != nil {
		return err
	}

	hosts, err := a.hosts(ctx, f.targetFlags, args)
	if err != nil {
		return err
	}

	// One connection per host, closed as soon as its file is in.
	runner := ssh.NewRunner(a.sshSettings(hosts))
	defer ssh.CloseAgent()
	progress := func(host string, transferred, total int64) {
		if transferred == total {
			a.logger.Debug("fetched", "host", host, "bytes", total)
		}
	}

	op := transfer.PullOperation(runner, remotePath, f.dest, progress)
	rs, err := execute(ctx, a, errOut, config.Targets(hosts), op, f.watch)
	if err != nil {
		return err
	}
	if err := exp.Export(out, rs); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return finish(rs)
}

func fetchColumns(format export.Format) []export.Column[transfer.Fetched] {
	header := strings.ToUpper
	if format == export.FormatCSV {
		header = strings.ToLower
	}
	return []export.Column[transfer.Fetched]{
		{Header: header("path"), Value: func(f transfer.Fetched) string { return f.LocalPath }},
		{Header: header("bytes"), Value: func(f transfer.Fetched) string { return strconv.FormatInt(f.Bytes, 10) }},
		{Header: header("sha256"), Value: func(f transfer.Fetched) string { return f.Checksum }},
	}
}
