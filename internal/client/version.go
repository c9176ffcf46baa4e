package client

import (
	"context"
	"fmt"

	"github.com/zfstools/zfstools/internal/cli"
	"github.com/zfstools/zfstools/internal/version"
)

var VersionCmd = &cli.Subcommand{
	Use:             "version",
	Short:           "print version of zfstools binary",
	NoRequireConfig: true,
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		fmt.Println(version.NewVersionInformation().String())
		return nil
	},
}
