// zfstools replicates ZFS snapshots between hosts.
package main

import (
	"github.com/zfstools/zfstools/internal/cli"
	"github.com/zfstools/zfstools/internal/client"
)

func init() {
	cli.AddSubcommand(client.TransferCmd)
	cli.AddSubcommand(client.ListCmd)
	cli.AddSubcommand(client.CreateCmd)
	cli.AddSubcommand(client.DestroyCmd)
	cli.AddSubcommand(client.SnapshotCmd)
	cli.AddSubcommand(client.MeterCmd)
	cli.AddSubcommand(client.ConfigcheckCmd)
	cli.AddSubcommand(client.VersionCmd)
}

func main() {
	cli.Run()
}
