package version

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	zfstoolsVersion string // set by build infrastructure
)

type VersionInformation struct {
	Version         string
	RuntimeGo       string
	RuntimeGOOS     string
	RuntimeGOARCH   string
	RUNTIMECompiler string
}

func NewVersionInformation() *VersionInformation {
	v := zfstoolsVersion
	if v == "" {
		v = "devel"
	}
	return &VersionInformation{
		Version:         v,
		RuntimeGo:       runtime.Version(),
		RuntimeGOOS:     runtime.GOOS,
		RuntimeGOARCH:   runtime.GOARCH,
		RUNTIMECompiler: runtime.Compiler,
	}
}

func (i *VersionInformation) String() string {
	return fmt.Sprintf("zfstools version=%s go=%s GOOS=%s GOARCH=%s Compiler=%s",
		i.Version, i.RuntimeGo, i.RuntimeGOOS, i.RuntimeGOARCH, i.RUNTIMECompiler)
}

var prometheusMetric = prometheus.NewUntypedFunc(
	prometheus.UntypedOpts{
		Namespace: "zfstools",
		Subsystem: "version",
		Name:      "info",
		Help:      "zfstools version",
		ConstLabels: map[string]string{
			"raw":          zfstoolsVersion,
			"version_info": NewVersionInformation().String(),
		},
	},
	func() float64 { return 1 },
)

func PrometheusRegister(r prometheus.Registerer) {
	r.MustRegister(prometheusMetric)
}
