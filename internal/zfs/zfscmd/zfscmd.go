// Package zfscmd provides a wrapper around package os/exec for the processes
// that make up a replication pipeline.
// Functionality provided by the wrapper:
// - the argument vector is retained for error reports
// - pipes between processes with configurable capacity
// - idempotent Wait and best-effort Kill
// - a tail of the process's stderr
// - logging start and end of command execution
// - status report of active commands
// - prometheus metrics of runtimes
package zfscmd

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zfstools/zfstools/internal/util/circlog"
	"github.com/zfstools/zfstools/internal/util/envconst"
)

type Cmd struct {
	cmd  *exec.Cmd
	args []string
	ctx  context.Context

	mtx                                      sync.RWMutex
	startedAt, waitStartedAt, waitReturnedAt time.Time

	stderrTail *circlog.CircularLog
	stderr     io.Writer

	// closed by Start regardless of its outcome
	closeAfterStart []*os.File
	// closed by Start only if it fails
	closeOnStartErr []*os.File

	waitOnce sync.Once
	status   ExitStatus
}

// CommandContext prepares the process described by argv (argv[0] is the executable).
// Nothing is spawned until Start is called.
func CommandContext(ctx context.Context, argv ...string) *Cmd {
	if len(argv) == 0 {
		panic("zfscmd: empty argument vector")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = envconst.Duration("ZFSTOOLS_WAIT_DELAY", 5*time.Second)
	args := make([]string, len(argv))
	copy(args, argv)
	return &Cmd{
		cmd:        cmd,
		args:       args,
		ctx:        ctx,
		stderrTail: circlog.MustNewCircularLog(envconst.Int("ZFSTOOLS_STDERR_TAIL", 32<<10)),
	}
}

// Args returns the argument vector the process is (to be) launched with.
func (c *Cmd) Args() []string {
	return c.args
}

// SetStdin makes the process read from f.
// If SetStdin is not called the process reads from os.DevNull.
// The caller retains ownership of f and should close it once Start has returned.
func (c *Cmd) SetStdin(f *os.File) {
	c.cmd.Stdin = f
}

// SetStderr duplicates the process's stderr to w in addition to the retained tail.
func (c *Cmd) SetStderr(w io.Writer) {
	c.stderr = w
}

// SetStdout connects the process's stdout to w.
// It must not be combined with StdoutPipe.
func (c *Cmd) SetStdout(w io.Writer) {
	c.cmd.Stdout = w
}

// SetEnv sets additional environment variables (KEY=VALUE) for the process.
func (c *Cmd) SetEnv(env []string) {
	c.cmd.Env = append(os.Environ(), env...)
}

// StdoutPipe returns the read end of a pipe that is connected to the process's
// stdout once it is started. If capacity > 0, the kernel pipe buffer is resized
// to capacity bytes where the platform supports it.
//
// The caller owns the returned read end and must close it, typically
// right after handing it to a downstream process via SetStdin and starting that process.
// The write end is closed by Start. If Start fails, both ends are closed.
func (c *Cmd) StdoutPipe(capacity int) (*os.File, error) {
	if c.cmd.Stdout != nil {
		return nil, errors.New("zfscmd: stdout already set")
	}
	if c.cmd.Process != nil {
		return nil, errors.New("zfscmd: StdoutPipe after process started")
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create stdout pipe")
	}
	if capacity > 0 {
		if err := trySetPipeCapacity(w, capacity); err != nil {
			// the pipeline works with the default capacity, just with more context switches
			c.log().WithError(err).WithField("capacity", capacity).Debug("cannot set pipe capacity")
		}
	}
	c.cmd.Stdout = w
	c.closeAfterStart = append(c.closeAfterStart, w)
	c.closeOnStartErr = append(c.closeOnStartErr, r)
	return r, nil
}

// String renders the argument vector space-separated.
func (c *Cmd) String() string {
	return strings.Join(c.args, " ")
}

func (c *Cmd) log() Logger {
	return getLogger(c.ctx).WithField("cmd", c.String())
}

// Start the process.
//
// If the process is successfully started (err == nil), it is the CALLER'S RESPONSIBILITY
// to call Wait so that the process is reaped.
//
// If this method returns an error, it is a *SpawnError and the Cmd instance is invalid.
// Start must not be called repeatedly.
func (c *Cmd) Start() (err error) {
	if c.stderr != nil {
		c.cmd.Stderr = io.MultiWriter(c.stderrTail, c.stderr)
	} else {
		c.cmd.Stderr = c.stderrTail
	}

	c.startPre()
	err = c.cmd.Start()
	for _, f := range c.closeAfterStart {
		f.Close()
	}
	if err != nil {
		for _, f := range c.closeOnStartErr {
			f.Close()
		}
		err = &SpawnError{Args: c.Args(), Err: err}
	}
	c.startPost(err)
	return err
}

// Get the underlying os.Process.
//
// Only call this method after a successful call to .Start().
func (c *Cmd) Process() *os.Process {
	if c.startedAt.IsZero() {
		panic("calling Process() only allowed after successful call to Start()")
	}
	return c.cmd.Process
}

// Wait blocks until the process exits and returns its exit status.
// It may be called concurrently and repeatedly: all calls return the status
// observed by the first one.
//
// Only call this method after a successful call to .Start().
func (c *Cmd) Wait() ExitStatus {
	c.waitOnce.Do(func() {
		c.waitPre()
		err := c.cmd.Wait()
		c.status = exitStatusFromWait(c.cmd.ProcessState, err)
		c.waitPost(err)
	})
	return c.status
}

// Kill sends sig to the process. Signalling a process that has already exited
// (whether reaped or not) is not an error.
func (c *Cmd) Kill(sig os.Signal) error {
	if c.cmd.Process == nil {
		return errors.Errorf("cannot signal %q: process was never started", c.String())
	}
	err := c.cmd.Process.Signal(sig)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return errors.Wrapf(err, "cannot signal %q", c.String())
}

// Stderr returns the retained tail of the process's stderr.
func (c *Cmd) Stderr() string {
	return c.stderrTail.String()
}

func (c *Cmd) startPre() {
	startPreLogging(c, time.Now())
}

func (c *Cmd) startPost(err error) {

	now := time.Now()
	c.mtx.Lock()
	c.startedAt = now
	c.mtx.Unlock()

	startPostReport(c, err, now)
	startPostLogging(c, err, now)
}

func (c *Cmd) waitPre() {
	now := time.Now()

	c.mtx.Lock()
	c.waitStartedAt = now
	c.mtx.Unlock()

	waitPreLogging(c, now)
}

type usage struct {
	total_secs, system_secs, user_secs float64
}

func (c *Cmd) waitPost(err error) {
	now := time.Now()

	c.mtx.Lock()
	c.waitReturnedAt = now
	c.mtx.Unlock()

	// build usage
	var u usage
	{
		s := c.cmd.ProcessState
		if s == nil {
			u = usage{
				total_secs:  c.Runtime().Seconds(),
				system_secs: -1,
				user_secs:   -1,
			}
		} else {
			u = usage{
				total_secs:  c.Runtime().Seconds(),
				system_secs: s.SystemTime().Seconds(),
				user_secs:   s.UserTime().Seconds(),
			}
		}
	}

	waitPostReport(c, u, now)
	waitPostLogging(c, u, err, now)
	waitPostPrometheus(c, u, err, now)
}

// returns 0 if the command did not yet finish
func (c *Cmd) Runtime() time.Duration {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.waitReturnedAt.IsZero() {
		return 0
	}
	return c.waitReturnedAt.Sub(c.startedAt)
}
