package zfs

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

// CacheState is the freshness of the dataset metadata cached by a Connection.
type CacheState int

const (
	NeedsRefresh CacheState = iota
	Fresh
)

func (s CacheState) String() string {
	switch s {
	case NeedsRefresh:
		return "needs-refresh"
	case Fresh:
		return "fresh"
	default:
		return fmt.Sprintf("CacheState(%d)", int(s))
	}
}

// Connection runs zfs commands on one host and caches that host's dataset metadata.
//
// Every operation that may change datasets on the host moves the cache to NeedsRefresh.
// Pools recomputes the cache lazily.
type Connection struct {
	transport Transport
	prefix    []string

	invalidations atomic.Uint64

	mtx   sync.Mutex
	state CacheState
	pools *PoolSet
}

func NewConnection(t Transport) *Connection {
	return &Connection{
		transport: t,
		prefix:    t.Prefix(),
		state:     NeedsRefresh,
	}
}

func (c *Connection) Transport() Transport {
	return c.transport
}

func (c *Connection) String() string {
	return c.transport.String()
}

// Command returns the full argument vector for running the zfs subcommand args on this connection's host.
func (c *Connection) Command(args ...string) []string {
	argv := make([]string, 0, len(c.prefix)+len(args))
	argv = append(argv, c.prefix...)
	return append(argv, args...)
}

// Invalidate moves the metadata cache to NeedsRefresh.
func (c *Connection) Invalidate() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.state = NeedsRefresh
	c.invalidations.Add(1)
}

// Invalidations returns how often Invalidate was called on c.
func (c *Connection) Invalidations() uint64 {
	return c.invalidations.Load()
}

func (c *Connection) CacheState() CacheState {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// Pools returns the host's datasets and snapshots, refreshing the cache if necessary.
//
// The zfs command runs without holding the cache lock. If the cache is invalidated
// while it runs, the result is returned but the cache stays in NeedsRefresh.
func (c *Connection) Pools(ctx context.Context) (*PoolSet, error) {
	c.mtx.Lock()
	if c.state == Fresh {
		pools := c.pools
		c.mtx.Unlock()
		return pools, nil
	}
	gen := c.invalidations.Load()
	c.mtx.Unlock()

	getLogger(ctx).WithField("host", c.String()).Debug("refreshing dataset metadata")
	var stdout bytes.Buffer
	if err := c.run(ctx, &stdout, "get", "-Hpr", "-o", "name,value", "creation"); err != nil {
		return nil, err
	}
	pools, err := ParseGetCreation(&stdout)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse dataset metadata of %s", c)
	}
	metrics.refreshes.Inc()

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.invalidations.Load() == gen {
		c.pools = pools
		c.state = Fresh
	}
	return pools, nil
}

func (c *Connection) run(ctx context.Context, stdout *bytes.Buffer, args ...string) error {
	cmd := zfscmd.CommandContext(ctx, c.Command(args...)...)
	if stdout != nil {
		cmd.SetStdout(stdout)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	st := cmd.Wait()
	if !st.Success() {
		return &CommandError{
			Args:   cmd.Args(),
			Status: st,
			Stderr: cmd.Stderr(),
		}
	}
	return nil
}

// runMutating runs a command that may change datasets on the host.
// The cache is invalidated even if the command fails since it may have partially succeeded.
func (c *Connection) runMutating(ctx context.Context, args ...string) error {
	defer c.Invalidate()
	err := c.run(ctx, nil, args...)
	if err != nil {
		getLogger(ctx).WithError(err).WithField("host", c.String()).Error("zfs command failed")
	}
	return err
}

// CreateDataset creates the dataset and returns it as found after the cache refresh.
func (c *Connection) CreateDataset(ctx context.Context, name string) (*Dataset, error) {
	if err := c.runMutating(ctx, "create", name); err != nil {
		return nil, err
	}
	pools, err := c.Pools(ctx)
	if err != nil {
		return nil, err
	}
	return pools.LookupDataset(name)
}

func (c *Connection) DestroyDataset(ctx context.Context, name string) error {
	return c.runMutating(ctx, "destroy", name)
}

func (c *Connection) DestroyRecursively(ctx context.Context, name string) error {
	return c.runMutating(ctx, "destroy", "-r", name)
}

// SnapshotRecursively creates name@snapname and the same snapshot on all descendants of name.
func (c *Connection) SnapshotRecursively(ctx context.Context, name, snapname string) error {
	return c.runMutating(ctx, "snapshot", "-r", name+"@"+snapname)
}

// SendCommand prepares (but does not start) `zfs send [opts] name`.
func (c *Connection) SendCommand(ctx context.Context, name string, opts []string, compression bool) *zfscmd.Cmd {
	args := append([]string{"send"}, opts...)
	args = append(args, name)
	return zfscmd.CommandContext(ctx, c.transport.WithCompression(compression).Command(args...)...)
}

// ReceiveCommand prepares (but does not start) `zfs receive [opts] name`.
func (c *Connection) ReceiveCommand(ctx context.Context, name string, opts []string, compression bool) *zfscmd.Cmd {
	args := append([]string{"receive"}, opts...)
	args = append(args, name)
	return zfscmd.CommandContext(ctx, c.transport.WithCompression(compression).Command(args...)...)
}
