package replication

import (
	"fmt"
	"strings"

	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

// StageError describes the pipeline stage whose failure aborted a transfer.
type StageError struct {
	Role   Role
	Args   []string
	Status zfscmd.ExitStatus
	// Stderr is the tail of the stage's stderr.
	Stderr string
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s stage %q failed: %s", e.Role, strings.Join(e.Args, " "), e.Status)
	if last := lastLine(e.Stderr); last != "" {
		msg += ": " + last
	}
	return msg
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
