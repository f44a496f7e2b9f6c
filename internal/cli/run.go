package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/sweep/internal/config"
	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/export"
	"github.com/agent462/sweep/internal/grouper"
	"github.com/agent462/sweep/internal/parser"
	"github.com/agent462/sweep/internal/probe"
	"github.com/agent462/sweep/internal/selector"
	"github.com/agent462/sweep/internal/ssh"
)

type runFlags struct {
	targetFlags
	probe   string
	command string
	parser  string
	sel     string
	watch   bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [hosts...]",
		Short: "Run a probe or command on every host",
		Long: `Run a named probe or an ad-hoc read-only command on every host.

Hosts come from a config group (-g), the arguments, and any address in
--cidr that accepts connections on --port. Each host runs at most once and
is always reported, succeeded or failed.`,
		Example: `  # Check uptime across the web group
  sweep run -g web --probe uptime

  # Compare kernels and show only hosts that differ
  sweep run -g web --probe kernel --select @differs -o grouped

  # Run an ad-hoc command on hosts found in a subnet
  sweep run --cidr 10.0.1.0/24 --command 'cat /etc/hostname'

  # Parse disk usage into columns
  sweep run db1 db2 --probe disk -o fields`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProbe(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.group, "group", "g", "", "host group from the config file")
	fl.StringVar(&f.cidr, "cidr", "", "also target hosts in this range with --port open")
	fl.IntVar(&f.port, "port", 22, "port scanned with --cidr")
	fl.DurationVar(&f.dialTimeout, "dial-timeout", 2*time.Second, "per-address timeout for --cidr scanning")
	fl.StringVarP(&f.probe, "probe", "p", "", "probe to run (see 'sweep probes')")
	fl.StringVar(&f.command, "command", "", "ad-hoc command to run instead of a probe")
	fl.StringVar(&f.parser, "parser", "", "parser applied to stdout, overriding the probe's")
	fl.StringVar(&f.sel, "select", "", "only show hosts matching a selector (@ok, @differs, @failed, @timeout, @unreachable, @auth, glob)")
	fl.BoolVarP(&f.watch, "watch", "w", false, "show live per-host progress")
	cmd.MarkFlagsMutuallyExclusive("probe", "command")
	cmd.MarkFlagsOneRequired("probe", "command")

	return cmd
}

func (a *app) runProbe(ctx context.Context, out, errOut io.Writer, f runFlags, args []string) error {
	format, err := a.format()
	if err != nil {
		return err
	}

	p, err := pickProbe(a.cfg, f)
	if err != nil {
		return err
	}
	fp, err := pickParser(a.cfg, p, f.parser)
	if err != nil {
		return err
	}
	var fieldNames []string
	if fp != nil {
		fieldNames = fp.FieldNames()
	}
	exp, err := export.ForReports(format, fieldNames, a.exportOptions(out)...)
	if err != nil {
		return err
	}

	hosts, err := a.hosts(ctx, f.targetFlags, args)
	if err != nil {
		return err
	}

	pool := ssh.NewPool(a.sshSettings(hosts), a.logger)
	defer ssh.CloseAgent()
	defer pool.Close()

	a.logger.Debug("running probe", "probe", p.Name, "hosts", len(hosts))
	rs, err := execute(ctx, a, errOut, config.Targets(hosts), probe.Operation(pool, p, fp), f.watch)
	if err != nil {
		return err
	}

	shown, err := applySelector(rs, f.sel)
	if err != nil {
		return err
	}
	if err := exp.Export(out, shown); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return finish(rs)
}

func pickProbe(cfg *config.Config, f runFlags) (probe.Probe, error) {
	switch {
	case f.command != "":
		return probe.Adhoc(f.command), nil
	case f.probe != "":
		return probe.Resolve(f.probe, cfg)
	}
	return probe.Probe{}, errors.New("one of --probe or --command is required")
}

// pickParser returns the parser named by --parser, else the probe's own,
// else nil for raw output.
func pickParser(cfg *config.Config, p probe.Probe, override string) (*parser.Parser, error) {
	name := p.Parser
	if override != "" {
		name = override
	}
	if name == "" {
		return nil, nil
	}
	return parser.Resolve(name, cfg)
}

// applySelector narrows rs to the hosts sel picks. The run's exit status
// still reflects every host.
func applySelector(rs executor.ResultSet[probe.Report], sel string) (executor.ResultSet[probe.Report], error) {
	if sel == "" {
		return rs, nil
	}
	names, err := selector.Resolve(sel, &selector.State{
		AllHosts: rs.Hosts(),
		Grouped:  grouper.Group(rs),
	})
	if err != nil {
		return nil, err
	}
	return rs.Filter(names), nil
}
