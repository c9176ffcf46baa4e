package replication

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfstools/zfstools/internal/logger"
	"github.com/zfstools/zfstools/internal/logging"
	"github.com/zfstools/zfstools/internal/meter"
	"github.com/zfstools/zfstools/internal/zfs"
	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

// The default metering filter re-executes the running binary, which is the test binary here.
func TestMain(m *testing.M) {
	if os.Getenv("ZFSTOOLS_METER_TEST_HELPER") == "1" && len(os.Args) > 1 && os.Args[1] == meter.SubcommandName {
		if err := meter.RunFilter(context.Background(), os.Args[2:], os.Stdin, os.Stdout, os.Stderr); err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type fixture struct {
	zfsBin, sshBin string
	zfsLog         string
	received       string
}

func newFixture(t *testing.T) *fixture {
	zfsBin, err := filepath.Abs("../zfs/testdata/fakezfs")
	require.NoError(t, err)
	sshBin, err := filepath.Abs("../zfs/testdata/fakessh")
	require.NoError(t, err)
	dir := t.TempDir()
	f := &fixture{
		zfsBin:   zfsBin,
		sshBin:   sshBin,
		zfsLog:   filepath.Join(dir, "zfs.log"),
		received: filepath.Join(dir, "received"),
	}
	t.Setenv("FAKEZFS_LOG", f.zfsLog)
	t.Setenv("FAKEZFS_RECV_OUT", f.received)
	return f
}

func (f *fixture) conn(host string) *zfs.Connection {
	return zfs.NewConnection(zfs.Transport{Host: host, ZFSCommand: f.zfsBin, SSHCommand: f.sshBin})
}

func (f *fixture) log(t *testing.T) []string {
	b, err := os.ReadFile(f.zfsLog)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func (f *fixture) receivedBytes(t *testing.T) int {
	b, err := os.ReadFile(f.received)
	require.NoError(t, err)
	return len(b)
}

func testContext(t *testing.T) context.Context {
	return logging.WithLoggers(context.Background(), logging.SubsystemLoggersWithUniversalLogger(logger.NewTestLogger(t)))
}

func assertNoActiveCommands(t *testing.T) {
	assert.Empty(t, zfscmd.GetReport().Active)
}

func TestTransferLocalToLocal(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKEZFS_SEND_BYTES", "100000")
	src, dst := f.conn("localhost"), f.conn("localhost")

	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), dst.Invalidations())
	assert.Equal(t, zfs.NeedsRefresh, dst.CacheState())
	assert.Equal(t, uint64(0), src.Invalidations())
	assert.Equal(t, 100000, f.receivedBytes(t))
	assert.ElementsMatch(t, []string{"send pool/a@1", "receive -F -u backup/a"}, f.log(t))
	assertNoActiveCommands(t)
}

func TestTransferIncrementalWithOptions(t *testing.T) {
	f := newFixture(t)
	src, dst := f.conn("localhost"), f.conn("127.0.0.1")

	err := Transfer(testContext(t), src, "pool/a@2", dst, "backup/a", Options{
		FromSnapshot: "pool/a@1",
		SendOpts:     []string{"-p"},
		ReceiveOpts:  []string{"-o", "readonly=on"},
		BufSize:      1 << 20,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"send -i pool/a@1 -p pool/a@2", "receive -F -u -o readonly=on backup/a"}, f.log(t))
	assert.Equal(t, 4096, f.receivedBytes(t))
}

func TestTransferReceiveFailsOnRemote(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKEZFS_RECV_EXIT", "1")
	src, dst := f.conn("localhost"), f.conn("backup.example.com")

	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{Compression: true})
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr), "%T %s", err, err)
	assert.Equal(t, RoleReceive, stageErr.Role)
	assert.Equal(t, 1, stageErr.Status.Code)
	assert.Equal(t, []string{f.sshBin, "-o", "BatchMode yes", "-a", "-x", "-c", "arcfour", "-C", "backup.example.com", f.zfsBin,
		"receive", "-F", "-u", "backup/a"}, stageErr.Args)
	assert.Contains(t, stageErr.Stderr, "destination already exists")
	assert.Equal(t, uint64(1), dst.Invalidations())
	// the producer exited or was killed, and was reaped
	assertNoActiveCommands(t)
}

func TestTransferReceiveFailsWhileSendIsRunning(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKEZFS_RECV_EXIT", "1")
	t.Setenv("FAKEZFS_SEND_SLEEP", "30")
	src, dst := f.conn("localhost"), f.conn("backup")

	begin := time.Now()
	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr), "%T %s", err, err)
	assert.Equal(t, RoleReceive, stageErr.Role)
	assert.True(t, time.Since(begin) < 10*time.Second)
	assertNoActiveCommands(t)
}

func TestTransferSendFails(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKEZFS_SEND_EXIT", "3")
	src, dst := f.conn("localhost"), f.conn("localhost")

	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr), "%T %s", err, err)
	assert.Equal(t, RoleSend, stageErr.Role)
	assert.Equal(t, 3, stageErr.Status.Code)
	assert.Equal(t, []string{f.zfsBin, "send", "pool/a@1"}, stageErr.Args)
	assert.Contains(t, err.Error(), "cannot send: fake send failure")
	assertNoActiveCommands(t)
}

func TestTransferFilterSpawnFails(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKEZFS_SEND_SLEEP", "30")
	src, dst := f.conn("localhost"), f.conn("localhost")

	begin := time.Now()
	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{
		ShowProgress: true,
		Filter:       meter.Options{Command: []string{"/nonexistent/pv", "-L", "{rate}"}},
		RateLimit:    1000,
	})
	var spawnErr *zfscmd.SpawnError
	require.True(t, errors.As(err, &spawnErr), "%T %s", err, err)
	assert.Equal(t, []string{"/nonexistent/pv", "-L", "1000"}, spawnErr.Args)
	assert.Contains(t, err.Error(), "cannot start filter stage")

	// the consumer was never spawned, the producer was killed and reaped
	for _, l := range f.log(t) {
		assert.False(t, strings.HasPrefix(l, "receive"), "%q", l)
	}
	assert.Equal(t, uint64(0), dst.Invalidations())
	assert.True(t, time.Since(begin) < 10*time.Second)
	assertNoActiveCommands(t)
}

func TestTransferReceiveSpawnFailsWithFilter(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKEZFS_SEND_SLEEP", "30")
	src := f.conn("localhost")
	dst := zfs.NewConnection(zfs.Transport{Host: "localhost", ZFSCommand: "/nonexistent/zfs"})

	begin := time.Now()
	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{
		ShowProgress: true,
		Filter:       meter.Options{Command: []string{"cat"}},
	})
	var spawnErr *zfscmd.SpawnError
	require.True(t, errors.As(err, &spawnErr), "%T %s", err, err)
	assert.Equal(t, []string{"/nonexistent/zfs", "receive", "-F", "-u", "backup/a"}, spawnErr.Args)
	assert.Contains(t, err.Error(), "cannot start receive stage")
	assert.Equal(t, uint64(0), dst.Invalidations())
	assert.True(t, time.Since(begin) < 10*time.Second)
	// producer and filter were both terminated and reaped
	assertNoActiveCommands(t)
}

func TestTransferSendSpawnFails(t *testing.T) {
	f := newFixture(t)
	src := zfs.NewConnection(zfs.Transport{Host: "localhost", ZFSCommand: "/nonexistent/zfs"})
	dst := f.conn("localhost")

	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{})
	var spawnErr *zfscmd.SpawnError
	require.True(t, errors.As(err, &spawnErr), "%T %s", err, err)
	assert.Equal(t, uint64(0), dst.Invalidations())
	assertNoActiveCommands(t)
}

func TestTransferWithFilter(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKEZFS_SEND_BYTES", "50000")
	src, dst := f.conn("localhost"), f.conn("localhost")

	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{
		ShowProgress: true,
		Filter:       meter.Options{Command: []string{"cat"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 50000, f.receivedBytes(t))
	assert.Equal(t, uint64(1), dst.Invalidations())
	assertNoActiveCommands(t)
}

func TestTransferRateLimited(t *testing.T) {
	f := newFixture(t)
	t.Setenv("ZFSTOOLS_METER_TEST_HELPER", "1")
	const size = 128 << 10
	const rate = 64 << 10
	t.Setenv("FAKEZFS_SEND_BYTES", "131072")
	src, dst := f.conn("localhost"), f.conn("localhost")

	begin := time.Now()
	err := Transfer(testContext(t), src, "pool/a@1", dst, "backup/a", Options{
		ShowProgress: true,
		RateLimit:    rate,
		BufSize:      4096,
	})
	elapsed := time.Since(begin)
	require.NoError(t, err)
	assert.Equal(t, size, f.receivedBytes(t))
	// the token bucket starts with a quarter second of burst
	assert.True(t, elapsed >= 1500*time.Millisecond, "elapsed %s", elapsed)
	assertNoActiveCommands(t)
}
