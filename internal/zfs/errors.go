package zfs

import (
	"fmt"
	"strings"

	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

// CommandError is returned if a synchronous zfs command exited unsuccessfully.
type CommandError struct {
	Args   []string
	Status zfscmd.ExitStatus
	Stderr string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed: %s", strings.Join(e.Args, " "), e.Status)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *CommandError) ExitCode() int {
	return e.Status.Code
}
