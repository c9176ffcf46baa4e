package zfscmd

import (
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var metrics struct {
	totaltime  *prometheus.HistogramVec
	systemtime *prometheus.HistogramVec
	usertime   *prometheus.HistogramVec
}

var timeLabels = []string{"transfer", "binary", "verb"}
var timeBuckets = []float64{0.01, 0.1, 0.2, 0.5, 0.75, 1, 2, 5, 10, 60, 600, 3600}

func init() {
	metrics.totaltime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zfstools",
		Subsystem: "zfscmd",
		Name:      "runtime",
		Help:      "number of seconds that the command took from start until wait returned",
		Buckets:   timeBuckets,
	}, timeLabels)
	metrics.systemtime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zfstools",
		Subsystem: "zfscmd",
		Name:      "systemtime",
		Help:      "https://golang.org/pkg/os/#ProcessState.SystemTime",
		Buckets:   timeBuckets,
	}, timeLabels)
	metrics.usertime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zfstools",
		Subsystem: "zfscmd",
		Name:      "usertime",
		Help:      "https://golang.org/pkg/os/#ProcessState.UserTime",
		Buckets:   timeBuckets,
	}, timeLabels)

}

func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(metrics.totaltime)
	r.MustRegister(metrics.systemtime)
	r.MustRegister(metrics.usertime)
}

var knownVerbs = map[string]bool{
	"send":     true,
	"receive":  true,
	"recv":     true,
	"create":   true,
	"destroy":  true,
	"snapshot": true,
	"get":      true,
	"list":     true,
	"meter":    true,
}

// verb is the first argument that names a zfs (or zfstools) subcommand.
// The ssh prefix of remote commands is skipped that way.
func verb(args []string) string {
	for _, a := range args[1:] {
		if knownVerbs[a] {
			return a
		}
	}
	return "other"
}

func waitPostPrometheus(c *Cmd, u usage, err error, now time.Time) {

	transfer := getTransferIDOrDefault(c.ctx, "_notransfer")

	labelValues := []string{transfer, filepath.Base(c.args[0]), verb(c.args)}

	metrics.totaltime.
		WithLabelValues(labelValues...).
		Observe(u.total_secs)
	if u.system_secs >= 0 {
		metrics.systemtime.WithLabelValues(labelValues...).
			Observe(u.system_secs)
	}
	if u.user_secs >= 0 {
		metrics.usertime.WithLabelValues(labelValues...).
			Observe(u.user_secs)
	}

}
