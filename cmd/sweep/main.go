package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/agent462/sweep/internal/cli"
)

func main() {
	ctx := cli.SetupSignalHandler()

	if err := cli.Execute(ctx); err != nil {
		if errors.Is(err, cli.ErrHostsFailed) {
			os.Exit(2)
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
