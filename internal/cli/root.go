// Package cli implements the sweep command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agent462/sweep/internal/config"
	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/export"
)

// ErrHostsFailed is returned when the command ran but at least one host
// did not succeed. The results have already been written.
var ErrHostsFailed = errors.New("one or more hosts failed")

// app is the state shared by every subcommand once flags, environment and
// the config file have been read.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

// Execute runs the root command with the provided context.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sweep - read-only diagnostics across many hosts over SSH",
		Long: `Sweep runs the same read-only diagnostic on many hosts at once,
with bounded concurrency and per-host timeouts. Every host gets a result:
output that differs from the majority is highlighted, and failures are
grouped by kind (unreachable, auth, timeout, remote error).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default is $XDG_CONFIG_HOME/sweep/config.yaml)")
	pf.IntP("concurrency", "c", executor.DefaultConcurrency, "maximum hosts in flight")
	pf.Duration("timeout", executor.DefaultTaskTimeout, "per-host timeout")
	pf.Duration("overall-timeout", executor.DefaultOverallTimeout, "timeout for the whole run")
	pf.StringP("output", "o", string(export.FormatTable), "output format ("+formatNames()+")")
	pf.Bool("insecure", false, "skip known_hosts verification")
	pf.Bool("no-headers", false, "omit table headers")
	pf.Bool("wide", false, "do not truncate table cells")
	pf.BoolP("verbose", "v", false, "verbose output with debug logging")
	pf.Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newFetchCmd(a))
	rootCmd.AddCommand(newDiscoverCmd(a))
	rootCmd.AddCommand(newProbesCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// setup binds flags and SWEEP_* variables, loads the config file and sets
// up logging. Config defaults sit between the environment and the
// built-in flag defaults.
func (a *app) setup(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("SWEEP")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	a.logger = setupLogging(cmd.ErrOrStderr(), a.v.GetBool("verbose"))

	var err error
	if path := a.v.GetString("config"); path != "" {
		a.cfg, err = config.Load(path)
	} else {
		a.cfg, err = config.LoadDefault()
	}
	if err != nil {
		return err
	}

	d := a.cfg.Defaults
	if d.Concurrency > 0 {
		a.v.SetDefault("concurrency", d.Concurrency)
	}
	if d.Timeout.Duration > 0 {
		a.v.SetDefault("timeout", d.Timeout.Duration)
	}
	if d.OverallTimeout.Duration > 0 {
		a.v.SetDefault("overall-timeout", d.OverallTimeout.Duration)
	}
	if d.Output != "" {
		a.v.SetDefault("output", d.Output)
	}

	a.logger.Debug("configuration loaded",
		"groups", len(a.cfg.Groups),
		"concurrency", a.v.GetInt("concurrency"),
		"timeout", a.v.GetDuration("timeout"))
	return nil
}

// setupLogging configures structured logging with slog.
func setupLogging(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func (a *app) format() (export.Format, error) {
	return export.ParseFormat(a.v.GetString("output"))
}

// exportOptions turns colour on only for a terminal, and never when
// --no-color or NO_COLOR is set.
func (a *app) exportOptions(w io.Writer) []export.Option {
	color := !a.v.GetBool("no-color") && os.Getenv("NO_COLOR") == "" && export.IsTerminal(w)
	return []export.Option{
		export.WithColor(color),
		export.WithNoHeaders(a.v.GetBool("no-headers")),
		export.WithWide(a.v.GetBool("wide")),
	}
}

func formatNames() string {
	names := make([]string, len(export.Formats))
	for i, f := range export.Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
