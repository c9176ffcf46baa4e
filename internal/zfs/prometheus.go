package zfs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var metrics struct {
	refreshes prometheus.Counter
}

func init() {
	metrics.refreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zfstools",
		Subsystem: "zfs",
		Name:      "metadata_refreshes_total",
		Help:      "number of times dataset metadata was fetched from a host",
	})
}

func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(metrics.refreshes)
}
