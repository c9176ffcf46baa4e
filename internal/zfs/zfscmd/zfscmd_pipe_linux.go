package zfscmd

import (
	"os"

	"golang.org/x/sys/unix"
)

func trySetPipeCapacity(p *os.File, capacity int) error {
	res, err := unix.FcntlInt(p.Fd(), unix.F_SETPIPE_SZ, capacity)
	if err != nil {
		return err
	}
	if res == -1 {
		return unix.EINVAL
	}
	return nil
}
