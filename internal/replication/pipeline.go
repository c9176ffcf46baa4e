package replication

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/zfstools/zfstools/internal/logging"
	"github.com/zfstools/zfstools/internal/util/envconst"
	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

type Role string

const (
	RoleSend    Role = "send"
	RoleFilter  Role = "filter"
	RoleReceive Role = "receive"
)

// process is the part of *zfscmd.Cmd the pipeline needs for supervision.
type process interface {
	Wait() zfscmd.ExitStatus
	Kill(sig os.Signal) error
	Args() []string
	Stderr() string
}

type stage struct {
	role Role
	proc process
	// upstream is the stage whose stdout is this stage's stdin, nil for the first stage
	upstream *stage
}

type completion struct {
	stage  *stage
	status zfscmd.ExitStatus
}

const maxStages = 3

// pipeline is a linear chain of started processes.
// Each process is waited for by its own goroutine which reports exactly one completion.
type pipeline struct {
	stages      []*stage
	done        chan completion
	reapTimeout time.Duration
}

func newPipeline() *pipeline {
	return &pipeline{
		// watchers never block
		done:        make(chan completion, maxStages),
		reapTimeout: envconst.Duration("ZFSTOOLS_REAP_TIMEOUT", 10*time.Second),
	}
}

// add registers a started process and begins watching it.
func (p *pipeline) add(role Role, proc process, upstream *stage) *stage {
	if len(p.stages) == maxStages {
		panic("impl error: too many pipeline stages")
	}
	if upstream == nil && len(p.stages) > 0 || upstream != nil && upstream != p.stages[len(p.stages)-1] {
		panic("impl error: pipeline stages must form a linear chain")
	}
	s := &stage{role: role, proc: proc, upstream: upstream}
	p.stages = append(p.stages, s)
	go func() {
		p.done <- completion{stage: s, status: proc.Wait()}
	}()
	return s
}

func (p *pipeline) kill(ctx context.Context, running map[*stage]bool, sig os.Signal) {
	for s := range running {
		if err := s.proc.Kill(sig); err != nil {
			getLogger(ctx).WithError(err).WithField(logging.RoleField, s.role).Debug("cannot kill stage")
		}
	}
}

// reap collects the completions of the running stages. Stages that do not exit within
// reapTimeout after SIGTERM get SIGKILL.
func (p *pipeline) reap(ctx context.Context, running map[*stage]bool) {
	if len(running) == 0 {
		return
	}
	timeout := time.NewTimer(p.reapTimeout)
	defer timeout.Stop()
	escalated := false
	for len(running) > 0 {
		select {
		case c := <-p.done:
			delete(running, c.stage)
			getLogger(ctx).
				WithField(logging.RoleField, c.stage.role).
				WithField("status", c.status.String()).
				Debug("terminated stage exited")
		case <-timeout.C:
			if escalated {
				for s := range running {
					getLogger(ctx).WithField(logging.RoleField, s.role).WithField("cmd", s.proc.Args()).
						Error("stage did not exit after SIGKILL, giving up")
				}
				return
			}
			getLogger(ctx).WithField("timeout", p.reapTimeout).Warn("stages did not exit after SIGTERM, sending SIGKILL")
			p.kill(ctx, running, syscall.SIGKILL)
			escalated = true
			timeout.Reset(p.reapTimeout)
		}
	}
}

func (p *pipeline) runningSet() map[*stage]bool {
	running := make(map[*stage]bool, len(p.stages))
	for _, s := range p.stages {
		running[s] = true
	}
	return running
}

// abort terminates all stages, used if a later stage cannot be started.
func (p *pipeline) abort(ctx context.Context) {
	running := p.runningSet()
	p.kill(ctx, running, syscall.SIGTERM)
	p.reap(ctx, running)
}

// supervise waits for all stages to exit. The first stage observed to fail determines
// the returned error, the others are terminated.
func (p *pipeline) supervise(ctx context.Context) error {
	running := p.runningSet()
	for len(running) > 0 {
		select {
		case c := <-p.done:
			delete(running, c.stage)
			log := getLogger(ctx).
				WithField(logging.RoleField, c.stage.role).
				WithField("status", c.status.String())
			if c.status.Success() {
				log.Debug("stage exited")
				continue
			}
			log.Warn("stage failed, terminating pipeline")
			p.kill(ctx, running, syscall.SIGTERM)
			p.reap(ctx, running)
			return &StageError{
				Role:   c.stage.role,
				Args:   c.stage.proc.Args(),
				Status: c.status,
				Stderr: c.stage.proc.Stderr(),
			}
		case <-ctx.Done():
			getLogger(ctx).WithError(ctx.Err()).Warn("transfer canceled, terminating pipeline")
			p.kill(ctx, running, syscall.SIGTERM)
			p.reap(ctx, running)
			return errors.Wrap(ctx.Err(), "transfer canceled")
		}
	}
	return nil
}
