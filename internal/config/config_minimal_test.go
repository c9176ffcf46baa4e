package config

import (
	"log/syslog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigEmptyFails(t *testing.T) {
	conf, err := testConfig(t, "\n")
	assert.Nil(t, conf)
	assert.Error(t, err)
}

func TestEmptyObjectGetsDefaults(t *testing.T) {
	conf := testValidConfig(t, "{}")

	assert.Equal(t, "zfs", conf.ZFS.Binary)
	assert.Equal(t, "ssh", conf.SSH.Binary)
	assert.Equal(t, "arcfour", conf.SSH.Cipher)
	assert.False(t, conf.Transfer.Compression)
	assert.False(t, conf.Transfer.TrustRemote)
	assert.Nil(t, conf.Transfer.RateLimit)
	assert.Nil(t, conf.Transfer.BufferSize)

	require.NotNil(t, conf.Global.Logging)
	require.Len(t, *conf.Global.Logging, 1)
	stdout, ok := (*conf.Global.Logging)[0].Ret.(*StdoutLoggingOutlet)
	require.True(t, ok)
	assert.Equal(t, "warn", stdout.Level)
	assert.Equal(t, "human", stdout.Format)
}

func TestDefaultConfigMatchesEmptyObject(t *testing.T) {
	assert.Equal(t, testValidConfig(t, "{}"), DefaultConfig())
}

func TestTransferSection(t *testing.T) {
	conf := testValidConfig(t, `
transfer:
  buffer_size: 128 KiB
  rate_limit: 8 Mib
  compression: true
  trust_remote: true
  filter_command: [pv, -L, "{rate}"]
`)
	require.NotNil(t, conf.Transfer.BufferSize)
	assert.Equal(t, int64(128<<10), conf.Transfer.BufferSize.ToInt64())
	assert.Equal(t, int64(1<<20), conf.Transfer.RateLimit.ToInt64())
	assert.True(t, conf.Transfer.Compression)
	assert.True(t, conf.Transfer.TrustRemote)
	assert.Equal(t, []string{"pv", "-L", "{rate}"}, conf.Transfer.FilterCommand)
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	_, err := testConfig(t, `
transfer:
  rate_limt: 1 MiB
`)
	assert.Error(t, err)
}

func TestSyslogFacility(t *testing.T) {
	conf := testValidConfig(t, `
global:
  logging:
  - type: syslog
    level: info
    format: logfmt
    facility: local5
`)
	out := (*conf.Global.Logging)[0].Ret.(*SyslogLoggingOutlet)
	assert.Equal(t, SyslogFacility(syslog.LOG_LOCAL5), *out.Facility)

	_, err := testConfig(t, `
global:
  logging:
  - type: syslog
    level: info
    format: logfmt
    facility: nonsense
`)
	assert.Error(t, err)
}

func TestMonitoringTextfile(t *testing.T) {
	conf := testValidConfig(t, `
global:
  monitoring:
  - type: prometheus_textfile
    path: /tmp/zfstools.prom
`)
	require.Len(t, conf.Global.Monitoring, 1)
	m := conf.Global.Monitoring[0].Ret.(*PrometheusTextfileMonitoring)
	assert.Equal(t, "/tmp/zfstools.prom", m.Path)

	conf = testValidConfig(t, `
global:
  monitoring:
  - type: prometheus
    listen: ":9811"
`)
	l := conf.Global.Monitoring[0].Ret.(*PrometheusMonitoring)
	assert.Equal(t, ":9811", l.Listen)

	_, err := testConfig(t, `
global:
  monitoring:
  - type: graphite
    listen: ":9811"
`)
	assert.Error(t, err)
}
