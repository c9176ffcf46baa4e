// Package meter relays a replication stream while limiting and reporting its throughput.
package meter

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zfstools/zfstools/internal/logger"
	"github.com/zfstools/zfstools/internal/logging"
	"github.com/zfstools/zfstools/internal/util/bandwidthlimit"
	"github.com/zfstools/zfstools/internal/util/bytecounter"
	"github.com/zfstools/zfstools/internal/util/datasizeunit"
)

const (
	DefaultBufSize  = 128 << 10
	DefaultInterval = time.Second
)

type Config struct {
	// RateLimit in bytes per second, <= 0 means unlimited.
	RateLimit int64
	BufSize   int
	// Progress receives one line per Interval, nil disables progress reporting.
	Progress io.Writer
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufSize <= 0 {
		c.BufSize = DefaultBufSize
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

func getLogger(ctx context.Context) logger.Logger {
	return logging.GetLogger(ctx, logging.SubsysMeter)
}

// Copy relays r to w unchanged until r returns EOF and returns the number of bytes copied.
func Copy(ctx context.Context, r io.Reader, w io.Writer, conf Config) (int64, error) {
	conf = conf.withDefaults()

	limit := bandwidthlimit.ConfigForRate(conf.RateLimit, conf.BufSize)
	counter := bytecounter.NewReader(bandwidthlimit.WrapperFromConfig(limit).WrapReader(r))

	getLogger(ctx).
		WithField("rate_limit", conf.RateLimit).
		WithField("buffer_size", conf.BufSize).
		Debug("start copying")

	start := time.Now()
	done := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)

	var copied int64
	g.Go(func() error {
		defer close(done)
		var err error
		copied, err = io.CopyBuffer(onlyWriter{w}, onlyReader{counter}, make([]byte, conf.BufSize))
		return err
	})

	if conf.Progress != nil {
		g.Go(func() error {
			t := time.NewTicker(conf.Interval)
			defer t.Stop()
			for {
				select {
				case <-done:
					if err := writeProgress(conf.Progress, counter.Count(), time.Since(start), "\n"); err != nil {
						getLogger(ctx).WithError(err).Warn("cannot write progress")
					}
					return nil
				case <-ctx.Done():
					return nil
				case <-t.C:
					if err := writeProgress(conf.Progress, counter.Count(), time.Since(start), ""); err != nil {
						getLogger(ctx).WithError(err).Warn("cannot write progress")
					}
				}
			}
		})
	}

	err := g.Wait()
	getLogger(ctx).
		WithField("bytes", copied).
		WithField("elapsed_s", time.Since(start).Seconds()).
		Debug("done copying")
	return copied, err
}

// onlyReader and onlyWriter hide WriterTo and ReaderFrom so that io.CopyBuffer uses the buffer.
type onlyReader struct {
	io.Reader
}

type onlyWriter struct {
	io.Writer
}

func formatProgress(n int64, elapsed time.Duration) string {
	rate := int64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = int64(float64(n) / secs)
	}
	return fmt.Sprintf("%s transferred, %s/s, elapsed %s",
		datasizeunit.HumanBytes(n), datasizeunit.HumanBytes(rate), elapsed.Truncate(time.Second))
}

func writeProgress(w io.Writer, n int64, elapsed time.Duration, end string) error {
	_, err := fmt.Fprintf(w, "\r%s%s", formatProgress(n, elapsed), end)
	return err
}
