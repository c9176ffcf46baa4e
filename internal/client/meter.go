package client

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/zfstools/zfstools/internal/cli"
	"github.com/zfstools/zfstools/internal/meter"
)

// MeterCmd is the metering filter process spawned by transfers.
var MeterCmd = &cli.Subcommand{
	Use:                meter.SubcommandName,
	Short:              "relay stdin to stdout with rate limit and progress (used internally)",
	Hidden:             true,
	SkipConfig:         true,
	DisableFlagParsing: true,
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		// the filter must die on SIGTERM like the other pipeline stages
		signal.Reset(os.Interrupt, syscall.SIGTERM)
		return meter.RunFilter(ctx, args, os.Stdin, os.Stdout, os.Stderr)
	},
}
