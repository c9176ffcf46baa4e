package zfscmd

import (
	"fmt"
	"os"
	"syscall"
)

// ExitStatus is the outcome of a process.
type ExitStatus struct {
	// Code is the exit code, or -1 if the process was killed by a signal
	// or could not be waited for.
	Code int
	// Signal is the signal that terminated the process, nil if it exited normally.
	Signal os.Signal
	// Err is the raw error returned by exec.Cmd.Wait.
	Err error
}

func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == nil
}

func (s ExitStatus) Killed() bool {
	return s.Signal != nil
}

func (s ExitStatus) String() string {
	switch {
	case s.Signal != nil:
		return fmt.Sprintf("killed by signal %s", s.Signal)
	case s.Code == -1 && s.Err != nil:
		return fmt.Sprintf("wait failed: %s", s.Err)
	default:
		return fmt.Sprintf("exit status %d", s.Code)
	}
}

func exitStatusFromWait(state *os.ProcessState, err error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1, Err: err}
	}
	st := ExitStatus{Code: state.ExitCode(), Err: err}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Signal = ws.Signal()
	}
	return st
}
