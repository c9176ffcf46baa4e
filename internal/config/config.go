package config

import (
	"fmt"
	"log/syslog"
	"os"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/zrepl/yaml-config"

	"github.com/zfstools/zfstools/internal/util/datasizeunit"
)

type Config struct {
	Global   *Global   `yaml:"global,optional,fromdefaults"`
	ZFS      *ZFS      `yaml:"zfs,optional,fromdefaults"`
	SSH      *SSH      `yaml:"ssh,optional,fromdefaults"`
	Transfer *Transfer `yaml:"transfer,optional,fromdefaults"`
}

type Global struct {
	Logging    *LoggingOutletEnumList `yaml:"logging,optional,fromdefaults"`
	Monitoring []MonitoringEnum       `yaml:"monitoring,optional"`
}

type ZFS struct {
	Binary string `yaml:"binary,optional,default=zfs"`
}

type SSH struct {
	Binary string `yaml:"binary,optional,default=ssh"`
	Cipher string `yaml:"cipher,optional,default=arcfour"`
}

type Transfer struct {
	// BufferSize is the pipe capacity requested between pipeline stages.
	BufferSize *datasizeunit.Bytes `yaml:"buffer_size,optional"`
	// RateLimit caps the metering filter's throughput, per second.
	RateLimit   *datasizeunit.Bytes `yaml:"rate_limit,optional"`
	Compression bool                `yaml:"compression,optional,default=false"`
	TrustRemote bool                `yaml:"trust_remote,optional,default=false"`
	// FilterCommand replaces the built-in metering filter, e.g. ["pv", "-L", "{rate}"].
	FilterCommand []string `yaml:"filter_command,optional"`
}

type LoggingOutletEnumList []LoggingOutletEnum

func (l *LoggingOutletEnumList) SetDefault() {
	def := `
type: "stdout"
time: true
level: "warn"
format: "human"
`
	s := &StdoutLoggingOutlet{}
	err := yaml.UnmarshalStrict([]byte(def), &s)
	if err != nil {
		panic(err)
	}
	*l = []LoggingOutletEnum{{Ret: s}}
}

var _ yaml.Defaulter = &LoggingOutletEnumList{}

func Default(i interface{}) {
	v := reflect.ValueOf(i)
	if v.Kind() != reflect.Ptr {
		panic(v)
	}
	y := `{}`
	err := yaml.Unmarshal([]byte(y), v.Interface())
	if err != nil {
		panic(err)
	}
}

type LoggingOutletEnum struct {
	Ret interface{}
}

type LoggingOutletCommon struct {
	Type   string `yaml:"type"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StdoutLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Time                bool `yaml:"time,default=true"`
	Color               bool `yaml:"color,default=true"`
}

type SyslogLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Facility            *SyslogFacility `yaml:"facility,optional,fromdefaults"`
	RetryInterval       time.Duration   `yaml:"retry_interval,positive,default=10s"`
}

type TCPLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Address             string        `yaml:"address"`
	Net                 string        `yaml:"net,default=tcp"`
	RetryInterval       time.Duration `yaml:"retry_interval,positive,default=10s"`
}

type SyslogFacility syslog.Priority

var syslogFacilities = map[string]syslog.Priority{
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"daemon": syslog.LOG_DAEMON,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

func (f *SyslogFacility) SetDefault() {
	*f = SyslogFacility(syslog.LOG_LOCAL0)
}

var _ yaml.Defaulter = (*SyslogFacility)(nil)

func (f *SyslogFacility) UnmarshalYAML(u func(interface{}, bool) error) error {
	var s string
	if err := u(&s, false); err != nil {
		return err
	}
	p, ok := syslogFacilities[s]
	if !ok {
		return fmt.Errorf("invalid syslog facility %q", s)
	}
	*f = SyslogFacility(p)
	return nil
}

type MonitoringEnum struct {
	Ret interface{}
}

// PrometheusTextfileMonitoring writes all metrics to Path when the command exits,
// in the format consumed by node_exporter's textfile collector.
type PrometheusTextfileMonitoring struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// PrometheusMonitoring serves /metrics on Listen while the command runs.
type PrometheusMonitoring struct {
	Type   string `yaml:"type"`
	Listen string `yaml:"listen"`
}

func enumUnmarshal(u func(interface{}, bool) error, types map[string]interface{}) (interface{}, error) {
	var in struct {
		Type string
	}
	if err := u(&in, true); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, &yaml.TypeError{Errors: []string{"must specify type"}}
	}

	v, ok := types[in.Type]
	if !ok {
		return nil, &yaml.TypeError{Errors: []string{fmt.Sprintf("invalid type name %q", in.Type)}}
	}
	if err := u(v, false); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *LoggingOutletEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"stdout": &StdoutLoggingOutlet{},
		"syslog": &SyslogLoggingOutlet{},
		"tcp":    &TCPLoggingOutlet{},
	})
	return
}

func (t *MonitoringEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"prometheus":          &PrometheusMonitoring{},
		"prometheus_textfile": &PrometheusTextfileMonitoring{},
	})
	return
}

var ConfigFileDefaultLocations = []string{
	"/etc/zfstools/zfstools.yml",
	"/usr/local/etc/zfstools/zfstools.yml",
}

// ErrNoConfigFile is returned by ParseConfig if path is empty and
// no file exists at any of the default locations.
var ErrNoConfigFile = errors.New("no config file found at default locations")

func ParseConfig(path string) (i *Config, err error) {

	if path == "" {
		// Try default locations
		for _, l := range ConfigFileDefaultLocations {
			stat, statErr := os.Stat(l)
			if statErr != nil {
				continue
			}
			if !stat.Mode().IsRegular() {
				err = errors.Errorf("file at default location is not a regular file: %s", l)
				return
			}
			path = l
			break
		}
		if path == "" {
			return nil, ErrNoConfigFile
		}
	}

	var bytes []byte

	if bytes, err = os.ReadFile(path); err != nil {
		return
	}

	return ParseConfigBytes(bytes)
}

func ParseConfigBytes(bytes []byte) (*Config, error) {
	var c *Config
	if err := yaml.UnmarshalStrict(bytes, &c); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("config is empty or only consists of comments")
	}
	return c, nil
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	c := &Config{}
	Default(c)
	return c
}
