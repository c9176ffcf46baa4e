// Package replication transfers a snapshot stream from one host to another by running
// zfs send, an optional metering filter and zfs receive as a pipeline of processes.
package replication

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zfstools/zfstools/internal/logger"
	"github.com/zfstools/zfstools/internal/logging"
	"github.com/zfstools/zfstools/internal/meter"
	"github.com/zfstools/zfstools/internal/zfs"
	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

type Options struct {
	// FromSnapshot makes the transfer incremental (zfs send -i FromSnapshot).
	FromSnapshot string
	// ShowProgress inserts the metering filter between send and receive.
	ShowProgress bool
	// BufSize is the capacity of the pipes between the stages, <= 0 for the system default.
	BufSize     int
	SendOpts    []string
	ReceiveOpts []string
	// RateLimit in bytes per second, enforced by the metering filter. <= 0 means unlimited.
	RateLimit int64
	// Compression enables ssh compression on remote transports.
	Compression bool
	// Filter configures the metering filter process. BufSize and RateLimit are taken from the fields above.
	Filter meter.Options
}

func getLogger(ctx context.Context) logger.Logger {
	return logging.GetLogger(ctx, logging.SubsysReplication)
}

// Transfer streams srcName from src into dstName on dst.
//
// The returned error is nil if and only if every stage of the pipeline exited successfully.
// If a stage cannot be spawned, the stages already started are terminated and the
// *zfscmd.SpawnError is returned (wrapped). If a stage exits unsuccessfully, all other stages
// are terminated and a *StageError describing the first failed stage is returned.
func Transfer(ctx context.Context, src *zfs.Connection, srcName string, dst *zfs.Connection, dstName string, opts Options) (err error) {
	transferID := uuid.New().String()
	ctx = logging.WithInjectedField(ctx, logging.TransferField, transferID)
	ctx = zfscmd.WithTransferID(ctx, transferID)
	log := getLogger(ctx).
		WithField("src", src.String()+":"+srcName).
		WithField("dst", dst.String()+":"+dstName)

	begin := time.Now()
	log.Info("start transfer")
	defer func() {
		observeOutcome(err, time.Since(begin))
		if err != nil {
			log.WithError(err).Error("transfer failed")
		} else {
			log.WithField("duration_s", time.Since(begin).Seconds()).Info("transfer done")
		}
	}()

	p := newPipeline()

	var sendOpts []string
	if opts.FromSnapshot != "" {
		sendOpts = append(sendOpts, "-i", opts.FromSnapshot)
	}
	sendOpts = append(sendOpts, opts.SendOpts...)
	producer := src.SendCommand(ctx, srcName, sendOpts, opts.Compression)
	out, err := producer.StdoutPipe(opts.BufSize)
	if err != nil {
		return err
	}
	if err := producer.Start(); err != nil {
		return errors.Wrapf(err, "cannot start %s stage", RoleSend)
	}
	upstream := p.add(RoleSend, producer, nil)

	if opts.ShowProgress {
		filterOpts := opts.Filter
		filterOpts.BufSize = opts.BufSize
		filterOpts.RateLimit = opts.RateLimit
		filter, filterOut, err := meter.Attach(ctx, out, filterOpts)
		closeOrLog(ctx, out)
		if err != nil {
			p.abort(ctx)
			return errors.Wrapf(err, "cannot start %s stage", RoleFilter)
		}
		upstream = p.add(RoleFilter, filter, upstream)
		out = filterOut
	}

	recvOpts := append([]string{"-F", "-u"}, opts.ReceiveOpts...)
	consumer := dst.ReceiveCommand(ctx, dstName, recvOpts, opts.Compression)
	consumer.SetStdin(out)
	err = consumer.Start()
	closeOrLog(ctx, out)
	if err != nil {
		p.abort(ctx)
		return errors.Wrapf(err, "cannot start %s stage", RoleReceive)
	}
	p.add(RoleReceive, consumer, upstream)

	// the receive may create or modify datasets on dst
	dst.Invalidate()

	return p.supervise(ctx)
}

func closeOrLog(ctx context.Context, f *os.File) {
	if err := f.Close(); err != nil {
		getLogger(ctx).WithError(err).Warn("cannot close pipe")
	}
}
