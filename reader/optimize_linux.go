package reader

import (
	"os"

	"golang.org/x/sys/unix"
)

func init() {
	ioOptimizations = append(ioOptimizations, func(st os.FileInfo, fh *os.File) error {
		// Manifest-driven inputs can be named pipes (e.g. a decompressor
		// streaming into the pipeline); raise the pipe's buffer as far as
		// the kernel allows, trying smaller powers of 2 starting from
		// 32MiB. Capped by /proc/sys/fs/pipe-max-size; only works on Linux.
		if st.Mode()&os.ModeNamedPipe != 0 {
			for pipeSize := 32 << 20; pipeSize > 512; pipeSize /= 2 {
				if _, err := unix.FcntlInt(fh.Fd(), unix.F_SETPIPE_SZ, pipeSize); err == nil {
					return nil
				}
			}
		}
		return nil
	})
}
