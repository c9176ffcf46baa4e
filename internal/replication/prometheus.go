package replication

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

var metrics struct {
	transfers *prometheus.CounterVec
	duration  prometheus.Histogram
}

func init() {
	metrics.transfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zfstools",
		Subsystem: "replication",
		Name:      "transfers_total",
		Help:      "number of transfers by outcome (success, role of the failed stage, spawn, canceled, error)",
	}, []string{"outcome"})
	metrics.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zfstools",
		Subsystem: "replication",
		Name:      "transfer_duration_seconds",
		Help:      "duration of transfers regardless of outcome",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
	})
}

func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(metrics.transfers)
	r.MustRegister(metrics.duration)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return string(stageErr.Role)
	}
	var spawnErr *zfscmd.SpawnError
	if errors.As(err, &spawnErr) {
		return "spawn"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

func observeOutcome(err error, d time.Duration) {
	metrics.transfers.WithLabelValues(outcome(err)).Inc()
	metrics.duration.Observe(d.Seconds())
}
