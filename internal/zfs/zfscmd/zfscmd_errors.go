package zfscmd

import (
	"fmt"
	"strings"
)

// SpawnError is returned by Cmd.Start if the operating system could not create the process.
type SpawnError struct {
	Args []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("cannot spawn %q: %s", strings.Join(e.Args, " "), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
