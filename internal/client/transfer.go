package client

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/zfstools/zfstools/internal/cli"
	"github.com/zfstools/zfstools/internal/config"
	"github.com/zfstools/zfstools/internal/logging"
	"github.com/zfstools/zfstools/internal/replication"
	"github.com/zfstools/zfstools/internal/util/datasizeunit"
	"github.com/zfstools/zfstools/internal/zfs"
	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

type transferArgs struct {
	flags       *pflag.FlagSet
	from        string
	progress    bool
	bufferSize  datasizeunit.Bytes
	rateLimit   datasizeunit.Bytes
	compress    bool
	trust       bool
	sendOpts    []string
	receiveOpts []string
}

var transferFlags transferArgs

var TransferCmd = &cli.Subcommand{
	Use:   "transfer [flags] [HOST:]SNAPSHOT [HOST:]DATASET",
	Short: "send a snapshot and receive it into a dataset, possibly on another host",
	Example: `  zfstools transfer tank/data@monday backup.example.com:backup/data
  zfstools transfer --from tank/data@monday --progress tank/data@tuesday backup:backup/data`,
	SetupFlags: func(f *pflag.FlagSet) {
		transferFlags.flags = f
		f.StringVar(&transferFlags.from, "from", "", "base snapshot for an incremental stream (zfs send -i)")
		f.BoolVar(&transferFlags.progress, "progress", false, "show progress on stderr")
		f.Var(&transferFlags.bufferSize, "buffer-size", "capacity of the pipes between the stages (default from config)")
		f.Var(&transferFlags.rateLimit, "rate-limit", "maximum throughput per second, implies the metering filter (default from config)")
		f.BoolVar(&transferFlags.compress, "compress", false, "enable ssh compression")
		f.BoolVar(&transferFlags.trust, "trust", false, "do not verify the host keys of remote hosts")
		f.StringArrayVar(&transferFlags.sendOpts, "send-opt", nil, "additional option for zfs send (repeatable)")
		f.StringArrayVar(&transferFlags.receiveOpts, "recv-opt", nil, "additional option for zfs receive (repeatable)")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		job, err := transferFlags.job(subcommand.Config(), args)
		if err != nil {
			return err
		}
		stopReport := reportOnSIGUSR1(ctx)
		defer stopReport()
		return job.run(ctx)
	},
}

type transferJob struct {
	src, dst         *zfs.Connection
	srcName, dstName string
	opts             replication.Options
}

func (j *transferJob) run(ctx context.Context) error {
	return replication.Transfer(ctx, j.src, j.srcName, j.dst, j.dstName, j.opts)
}

func (a *transferArgs) changed(name string) bool {
	return a.flags != nil && a.flags.Changed(name)
}

func (a *transferArgs) job(c *config.Config, args []string) (*transferJob, error) {
	if len(args) != 2 {
		return nil, errors.New("expected exactly two arguments: source snapshot and destination dataset")
	}
	src, err := ParseEndpoint(args[0])
	if err != nil {
		return nil, errors.Wrap(err, "invalid source")
	}
	dst, err := ParseEndpoint(args[1])
	if err != nil {
		return nil, errors.Wrap(err, "invalid destination")
	}

	opts := replication.Options{
		FromSnapshot: a.from,
		ShowProgress: a.progress,
		SendOpts:     a.sendOpts,
		ReceiveOpts:  a.receiveOpts,
		Compression:  a.compress || c.Transfer.Compression,
		BufSize:      -1,
		RateLimit:    -1,
	}
	opts.Filter.Command = c.Transfer.FilterCommand

	switch {
	case a.changed("buffer-size"):
		opts.BufSize = int(a.bufferSize.ToInt64())
	case c.Transfer.BufferSize != nil:
		opts.BufSize = int(c.Transfer.BufferSize.ToInt64())
	}
	switch {
	case a.changed("rate-limit"):
		opts.RateLimit = a.rateLimit.ToInt64()
	case c.Transfer.RateLimit != nil:
		opts.RateLimit = c.Transfer.RateLimit.ToInt64()
	}
	if opts.RateLimit > 0 {
		// rate limiting is done by the filter
		opts.ShowProgress = true
	}
	if a.progress {
		opts.Filter.Progress = os.Stderr
	}

	return &transferJob{
		src:     connectionFromConfig(c, src.Host, a.trust),
		dst:     connectionFromConfig(c, dst.Host, a.trust),
		srcName: src.Name,
		dstName: dst.Name,
		opts:    opts,
	}, nil
}

// reportOnSIGUSR1 dumps the active zfs commands to stderr whenever SIGUSR1 is received.
func reportOnSIGUSR1(ctx context.Context) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				report := zfscmd.GetReport()
				logging.GetLogger(ctx, logging.SubsysMeta).WithField("active", len(report.Active)).Info("active commands report requested")
				pretty.Fprintf(os.Stderr, "%# v\n", report)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
