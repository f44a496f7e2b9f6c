package cli

import (
	"github.com/spf13/cobra"

	"github.com/agent462/sweep/internal/export"
	"github.com/agent462/sweep/internal/probe"
)

func newProbesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probes",
		Short: "List available probes",
		Long:  "List the built-in probes and those defined in the config file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}

			all := probe.All(a.cfg)
			rows := make([][]string, len(all))
			for i, p := range all {
				source := "config"
				if p.Builtin {
					source = "builtin"
				}
				parserName := p.Parser
				if parserName == "" {
					parserName = "-"
				}
				rows[i] = []string{p.Name, parserName, source, p.Description}
			}

			out := cmd.OutOrStdout()
			return export.WriteList(out, format, export.List{
				Headers: []string{"NAME", "PARSER", "SOURCE", "DESCRIPTION"},
				Rows:    rows,
				Items:   all,
			}, a.exportOptions(out)...)
		},
	}
}
