package cli

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/sweep/internal/discover"
	"github.com/agent462/sweep/internal/export"
)

func newDiscoverCmd(a *app) *cobra.Command {
	var (
		port        int
		dialTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "discover CIDR",
		Short: "List addresses in a range with a port open",
		Long: `Dial PORT on every usable address in CIDR and list the ones that
accept. Ranges wider than /16 are rejected.`,
		Example: `  # Find SSH servers on a /24
  sweep discover 10.0.1.0/24

  # Look for a non-standard port
  sweep discover 192.168.0.0/24 --port 2222 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}

			found, err := discover.CIDRScan(cmd.Context(), args[0], port, a.v.GetInt("concurrency"), dialTimeout, a.v.GetDuration("overall-timeout"))
			var incomplete *discover.IncompleteError
			if err != nil && !errors.As(err, &incomplete) {
				return err
			}

			rows := make([][]string, len(found))
			for i, h := range found {
				rows[i] = []string{h.Address, strconv.Itoa(h.Port)}
			}
			out := cmd.OutOrStdout()
			if werr := export.WriteList(out, format, export.List{
				Headers: []string{"ADDRESS", "PORT"},
				Rows:    rows,
				Items:   found,
			}, a.exportOptions(out)...); werr != nil {
				return werr
			}
			// Partial results are printed, but the exit status reports the gap.
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 22, "port to probe")
	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 2*time.Second, "per-address timeout")

	return cmd
}
