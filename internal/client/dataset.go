package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/zfstools/zfstools/internal/cli"
	"github.com/zfstools/zfstools/internal/zfs"
)

var listArgs struct {
	snapshots bool
	trust     bool
}

var ListCmd = &cli.Subcommand{
	Use:   "list [HOST:][DATASET]",
	Short: "list datasets (and snapshots) on a host",
	SetupFlags: func(f *pflag.FlagSet) {
		f.BoolVarP(&listArgs.snapshots, "snapshots", "t", false, "include snapshots")
		f.BoolVar(&listArgs.trust, "trust", false, "do not verify the host key of a remote host")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		if len(args) > 1 {
			return errors.New("expected at most one argument")
		}
		ep := Endpoint{Host: "localhost"}
		if len(args) == 1 {
			var err error
			if ep, err = parseEndpoint(args[0], true); err != nil {
				return err
			}
		}
		conn := connectionFromConfig(subcommand.Config(), ep.Host, listArgs.trust)
		pools, err := conn.Pools(ctx)
		if err != nil {
			return err
		}
		if !isatty.IsTerminal(os.Stdout.Fd()) {
			pterm.DisableStyling()
		}
		return renderDatasets(os.Stdout, pools, ep.Name, listArgs.snapshots)
	},
}

func renderDatasets(w io.Writer, pools *zfs.PoolSet, root string, snapshots bool) error {
	data := pterm.TableData{{"NAME", "CREATION"}}
	row := func(name string, creation time.Time) {
		data = append(data, []string{name, creation.Format(time.RFC3339)})
	}
	var visit func(d *zfs.Dataset)
	visit = func(d *zfs.Dataset) {
		row(d.Name, d.Creation)
		if snapshots {
			for _, s := range d.Snapshots {
				row(s.FullName(), s.Creation)
			}
		}
		for _, c := range d.Children {
			visit(c)
		}
	}
	if root == "" {
		for _, p := range pools.Pools() {
			visit(p.Dataset)
		}
	} else {
		ds, err := pools.LookupDataset(root)
		if err != nil {
			return err
		}
		visit(ds)
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

var createArgs struct {
	trust bool
}

var CreateCmd = &cli.Subcommand{
	Use:   "create [HOST:]DATASET",
	Short: "create a dataset",
	SetupFlags: func(f *pflag.FlagSet) {
		f.BoolVar(&createArgs.trust, "trust", false, "do not verify the host key of a remote host")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		ep, err := singleEndpoint(args)
		if err != nil {
			return err
		}
		conn := connectionFromConfig(subcommand.Config(), ep.Host, createArgs.trust)
		ds, err := conn.CreateDataset(ctx, ep.Name)
		if err != nil {
			return err
		}
		fmt.Printf("created %s:%s (creation %s)\n", ep.Host, ds.Name, ds.Creation.Format(time.RFC3339))
		return nil
	},
}

var destroyArgs struct {
	recursive bool
	trust     bool
}

var DestroyCmd = &cli.Subcommand{
	Use:   "destroy [HOST:]DATASET",
	Short: "destroy a dataset or snapshot",
	SetupFlags: func(f *pflag.FlagSet) {
		f.BoolVarP(&destroyArgs.recursive, "recursive", "r", false, "destroy all descendants, too")
		f.BoolVar(&destroyArgs.trust, "trust", false, "do not verify the host key of a remote host")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		ep, err := singleEndpoint(args)
		if err != nil {
			return err
		}
		conn := connectionFromConfig(subcommand.Config(), ep.Host, destroyArgs.trust)
		if destroyArgs.recursive {
			return conn.DestroyRecursively(ctx, ep.Name)
		}
		return conn.DestroyDataset(ctx, ep.Name)
	},
}

var snapshotArgs struct {
	trust bool
}

var SnapshotCmd = &cli.Subcommand{
	Use:   "snapshot [HOST:]DATASET [SNAPNAME]",
	Short: "recursively snapshot a dataset and its descendants",
	SetupFlags: func(f *pflag.FlagSet) {
		f.BoolVar(&snapshotArgs.trust, "trust", false, "do not verify the host key of a remote host")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			return errors.New("expected a dataset and an optional snapshot name")
		}
		ep, err := ParseEndpoint(args[0])
		if err != nil {
			return err
		}
		snapname := defaultSnapshotName(time.Now())
		if len(args) == 2 {
			snapname = args[1]
		}
		conn := connectionFromConfig(subcommand.Config(), ep.Host, snapshotArgs.trust)
		if err := conn.SnapshotRecursively(ctx, ep.Name, snapname); err != nil {
			return err
		}
		fmt.Printf("%s@%s\n", ep.Name, snapname)
		return nil
	},
}

func defaultSnapshotName(now time.Time) string {
	return "zfstools_" + now.UTC().Format("20060102_150405")
}

func singleEndpoint(args []string) (Endpoint, error) {
	if len(args) != 1 {
		return Endpoint{}, errors.New("expected exactly one argument")
	}
	return ParseEndpoint(args[0])
}
