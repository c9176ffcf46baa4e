package replication

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

type fakeProcess struct {
	args []string
	// ignoreTerm makes the process survive SIGTERM
	ignoreTerm bool

	once   sync.Once
	exited chan struct{}
	status zfscmd.ExitStatus

	mtx   sync.Mutex
	kills []os.Signal
}

func newFakeProcess(args ...string) *fakeProcess {
	return &fakeProcess{args: args, exited: make(chan struct{})}
}

func (f *fakeProcess) exit(st zfscmd.ExitStatus) {
	f.once.Do(func() {
		f.status = st
		close(f.exited)
	})
}

func (f *fakeProcess) Wait() zfscmd.ExitStatus {
	<-f.exited
	return f.status
}

func (f *fakeProcess) Kill(sig os.Signal) error {
	f.mtx.Lock()
	f.kills = append(f.kills, sig)
	f.mtx.Unlock()
	if sig == syscall.SIGTERM && f.ignoreTerm {
		return nil
	}
	f.exit(zfscmd.ExitStatus{Code: -1, Signal: sig})
	return nil
}

func (f *fakeProcess) Args() []string { return f.args }
func (f *fakeProcess) Stderr() string { return "" }

func (f *fakeProcess) Kills() []os.Signal {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]os.Signal(nil), f.kills...)
}

func (f *fakeProcess) hasExited() bool {
	select {
	case <-f.exited:
		return true
	default:
		return false
	}
}

func exitCode(code int) zfscmd.ExitStatus {
	if code == 0 {
		return zfscmd.ExitStatus{}
	}
	return zfscmd.ExitStatus{Code: code, Err: fmt.Errorf("exit status %d", code)}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var res [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			res = append(res, q)
		}
	}
	return res
}

func TestPermutations(t *testing.T) {
	assert.Len(t, permutations(2), 2)
	assert.Len(t, permutations(3), 6)
}

// Completions are delivered to the pipeline in every possible order before supervision
// starts. The outcome must only depend on the exit codes.
func TestSuperviseOrderInvariance(t *testing.T) {
	roles := []Role{RoleSend, RoleFilter, RoleReceive}
	codeSets := [][]int{
		{0, 0},
		{1, 0},
		{0, 1},
		{0, 0, 0},
		{2, 0, 0},
		{0, 2, 0},
		{0, 0, 2},
	}
	for _, codes := range codeSets {
		for _, order := range permutations(len(codes)) {
			t.Run(fmt.Sprintf("codes=%v order=%v", codes, order), func(t *testing.T) {
				p := newPipeline()
				procs := make([]*fakeProcess, len(codes))
				var upstream *stage
				for i := range codes {
					role := roles[i]
					if len(codes) == 2 && i == 1 {
						role = RoleReceive
					}
					procs[i] = newFakeProcess(string(role))
					upstream = p.add(role, procs[i], upstream)
				}
				for n, i := range order {
					procs[i].exit(exitCode(codes[i]))
					require.Eventually(t, func() bool { return len(p.done) == n+1 }, 5*time.Second, time.Millisecond)
				}

				err := p.supervise(context.Background())

				failed := -1
				for i, c := range codes {
					if c != 0 {
						failed = i
					}
				}
				if failed == -1 {
					assert.NoError(t, err)
					return
				}
				var stageErr *StageError
				require.True(t, errors.As(err, &stageErr))
				assert.Equal(t, procs[failed].args, stageErr.Args)
				assert.Equal(t, codes[failed], stageErr.Status.Code)
				assert.Empty(t, p.done)
			})
		}
	}
}

func TestSuperviseKillsRunningStages(t *testing.T) {
	p := newPipeline()
	send := newFakeProcess("zfs", "send", "pool/a@1")
	filter := newFakeProcess("zfstools", "meter")
	recv := newFakeProcess("zfs", "receive", "-F", "-u", "backup/a")
	s := p.add(RoleSend, send, nil)
	f := p.add(RoleFilter, filter, s)
	p.add(RoleReceive, recv, f)

	recv.exit(exitCode(1))
	err := p.supervise(context.Background())

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, RoleReceive, stageErr.Role)
	assert.Equal(t, 1, stageErr.Status.Code)
	assert.Equal(t, []string{"zfs", "receive", "-F", "-u", "backup/a"}, stageErr.Args)

	// both were terminated and reaped before supervise returned
	assert.True(t, send.hasExited())
	assert.True(t, filter.hasExited())
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, send.Kills())
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, filter.Kills())
	assert.Empty(t, recv.Kills())
	assert.Empty(t, p.done)
}

func TestSuperviseKillAfterExitIsNotReportedTwice(t *testing.T) {
	p := newPipeline()
	send := newFakeProcess("send")
	recv := newFakeProcess("receive")
	s := p.add(RoleSend, send, nil)
	p.add(RoleReceive, recv, s)

	// send already exited successfully but its completion is not yet consumed
	send.exit(exitCode(0))
	require.Eventually(t, func() bool { return len(p.done) == 1 }, 5*time.Second, time.Millisecond)
	recv.exit(exitCode(3))
	require.Eventually(t, func() bool { return len(p.done) == 2 }, 5*time.Second, time.Millisecond)

	err := p.supervise(context.Background())
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, RoleReceive, stageErr.Role)
	assert.Equal(t, 3, stageErr.Status.Code)

	require.NoError(t, send.Kill(syscall.SIGTERM))
	assert.True(t, send.Wait().Success())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, p.done)
}

func TestSuperviseEscalatesToSIGKILL(t *testing.T) {
	p := newPipeline()
	p.reapTimeout = 100 * time.Millisecond
	send := newFakeProcess("send")
	send.ignoreTerm = true
	recv := newFakeProcess("receive")
	s := p.add(RoleSend, send, nil)
	p.add(RoleReceive, recv, s)

	recv.exit(exitCode(1))
	err := p.supervise(context.Background())
	require.Error(t, err)
	assert.Equal(t, []os.Signal{syscall.SIGTERM, syscall.SIGKILL}, send.Kills())
	assert.True(t, send.Wait().Killed())
}

func TestSuperviseCanceled(t *testing.T) {
	p := newPipeline()
	send := newFakeProcess("send")
	recv := newFakeProcess("receive")
	s := p.add(RoleSend, send, nil)
	p.add(RoleReceive, recv, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.supervise(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "canceled", outcome(err))
	assert.True(t, send.hasExited())
	assert.True(t, recv.hasExited())
}

func TestAbort(t *testing.T) {
	p := newPipeline()
	send := newFakeProcess("send")
	p.add(RoleSend, send, nil)
	p.abort(context.Background())
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, send.Kills())
	assert.True(t, send.hasExited())
}

func TestPipelineMustBeLinear(t *testing.T) {
	p := newPipeline()
	s := p.add(RoleSend, newFakeProcess("send"), nil)
	assert.Panics(t, func() { p.add(RoleReceive, newFakeProcess("receive"), nil) })
	p.add(RoleFilter, newFakeProcess("filter"), s)
	assert.Panics(t, func() { p.add(RoleReceive, newFakeProcess("receive"), s) })
	p.abort(context.Background())
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{
		Role:   RoleReceive,
		Args:   []string{"zfs", "receive", "-F", "-u", "backup/a"},
		Status: exitCode(1),
		Stderr: "some noise\ncannot receive: destination already exists\n",
	}
	assert.Equal(t, `receive stage "zfs receive -F -u backup/a" failed: exit status 1: cannot receive: destination already exists`, err.Error())
	assert.Equal(t, "receive", outcome(err))
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "spawn", outcome(errors.Wrap(&zfscmd.SpawnError{Args: []string{"x"}}, "cannot start")))
}
