// Package monitoring exposes the metrics of a zfstools invocation as configured in global.monitoring.
package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zfstools/zfstools/internal/config"
	"github.com/zfstools/zfstools/internal/logger"
	"github.com/zfstools/zfstools/internal/logging"
	"github.com/zfstools/zfstools/internal/replication"
	"github.com/zfstools/zfstools/internal/version"
	"github.com/zfstools/zfstools/internal/zfs"
	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

// NewRegistry returns a registry with the metrics of all zfstools packages.
func NewRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector())
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	version.PrometheusRegister(r)
	zfscmd.RegisterMetrics(r)
	zfs.RegisterMetrics(r)
	replication.RegisterMetrics(r)
	return r
}

// Exporter makes metrics available for the lifetime of a command.
type Exporter interface {
	Start(ctx context.Context, g prometheus.Gatherer) error
	// Stop is called once the command has finished.
	Stop(ctx context.Context, g prometheus.Gatherer) error
	String() string
}

func getLogger(ctx context.Context) logger.Logger {
	return logging.GetLogger(ctx, logging.SubsysMeta)
}

func FromConfig(in []config.MonitoringEnum) ([]Exporter, error) {
	exporters := make([]Exporter, 0, len(in))
	for i, m := range in {
		switch v := m.Ret.(type) {
		case *config.PrometheusTextfileMonitoring:
			if v.Path == "" {
				return nil, errors.Errorf("monitoring %d: path must not be empty", i)
			}
			exporters = append(exporters, &TextfileExporter{Path: v.Path})
		case *config.PrometheusMonitoring:
			if _, _, err := net.SplitHostPort(v.Listen); err != nil {
				return nil, errors.Wrapf(err, "monitoring %d: invalid listen address", i)
			}
			exporters = append(exporters, &HTTPExporter{Listen: v.Listen})
		default:
			return nil, errors.Errorf("monitoring %d: unknown monitoring type %T", i, v)
		}
	}
	return exporters, nil
}

// TextfileExporter writes all metrics to Path on Stop,
// for node_exporter's textfile collector.
type TextfileExporter struct {
	Path string
}

func (e *TextfileExporter) Start(ctx context.Context, g prometheus.Gatherer) error { return nil }

func (e *TextfileExporter) Stop(ctx context.Context, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(e.Path, g)
}

func (e *TextfileExporter) String() string { return fmt.Sprintf("prometheus textfile %s", e.Path) }

// HTTPExporter serves /metrics on Listen between Start and Stop.
type HTTPExporter struct {
	Listen string

	listener net.Listener
	server   *http.Server
	served   chan error
}

func (e *HTTPExporter) Start(ctx context.Context, g prometheus.Gatherer) error {
	l, err := net.Listen("tcp", e.Listen)
	if err != nil {
		return errors.Wrap(err, "cannot listen")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	e.listener = l
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	e.served = make(chan error, 1)
	go func() {
		err := e.server.Serve(l)
		if err != nil && err != http.ErrServerClosed {
			getLogger(ctx).WithError(err).Error("error while serving metrics")
		}
		e.served <- err
	}()
	return nil
}

// Addr returns the address the exporter listens on once started.
func (e *HTTPExporter) Addr() net.Addr {
	return e.listener.Addr()
}

func (e *HTTPExporter) Stop(ctx context.Context, g prometheus.Gatherer) error {
	if e.server == nil {
		return nil
	}
	if err := e.server.Shutdown(ctx); err != nil {
		return err
	}
	<-e.served
	return nil
}

func (e *HTTPExporter) String() string { return fmt.Sprintf("prometheus http %s", e.Listen) }

// Run starts the exporters, runs f and stops the exporters.
// Exporter errors are logged and do not affect the result of f.
func Run(ctx context.Context, exporters []Exporter, g prometheus.Gatherer, f func(ctx context.Context) error) error {
	log := getLogger(ctx)
	started := make([]Exporter, 0, len(exporters))
	for _, e := range exporters {
		if err := e.Start(ctx, g); err != nil {
			log.WithError(err).WithField("exporter", e.String()).Error("cannot start metrics exporter")
			continue
		}
		started = append(started, e)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, e := range started {
			if err := e.Stop(stopCtx, g); err != nil {
				log.WithError(err).WithField("exporter", e.String()).Error("cannot stop metrics exporter")
			}
		}
	}()
	return f(ctx)
}
