package zfscmd

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Report is a snapshot of the pipeline stages currently running in this process.
type Report struct {
	Active []ActiveCommand
}

type ActiveCommand struct {
	Transfer  string
	Pid       int
	Args      []string
	StartedAt time.Time
}

// registry holds commands between a successful Start and the return of Wait.
var registry = struct {
	mtx  sync.Mutex
	cmds map[*Cmd]struct{}
}{cmds: make(map[*Cmd]struct{})}

// GetReport lists the started commands that have not been waited for, oldest first.
func GetReport() *Report {
	registry.mtx.Lock()
	cmds := make([]*Cmd, 0, len(registry.cmds))
	for c := range registry.cmds {
		cmds = append(cmds, c)
	}
	registry.mtx.Unlock()

	r := &Report{Active: make([]ActiveCommand, 0, len(cmds))}
	for _, c := range cmds {
		c.mtx.RLock()
		r.Active = append(r.Active, ActiveCommand{
			Transfer:  getTransferIDOrDefault(c.ctx, ""),
			Pid:       c.cmd.Process.Pid,
			Args:      c.Args(),
			StartedAt: c.startedAt,
		})
		c.mtx.RUnlock()
	}
	sort.Slice(r.Active, func(i, j int) bool {
		return r.Active[i].StartedAt.Before(r.Active[j].StartedAt)
	})
	return r
}

func startPostReport(c *Cmd, err error, _ time.Time) {
	if err != nil {
		return
	}
	registry.mtx.Lock()
	defer registry.mtx.Unlock()
	if _, ok := registry.cmds[c]; ok {
		panic(fmt.Sprintf("zfscmd: command registered twice: %s", c))
	}
	registry.cmds[c] = struct{}{}
}

func waitPostReport(c *Cmd, _ usage, _ time.Time) {
	registry.mtx.Lock()
	defer registry.mtx.Unlock()
	if _, ok := registry.cmds[c]; !ok {
		panic(fmt.Sprintf("zfscmd: wait on unregistered command: %s", c))
	}
	delete(registry.cmds, c)
}
