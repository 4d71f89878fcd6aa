package reader

import "os"

// ioOptimizations are best-effort, platform-specific tuning hooks applied to
// a freshly opened input file — e.g. raising a named pipe's buffer size on
// Linux (optimize_linux.go), mirroring the teacher's own ioOptimizations
// hook in cmd/stream-commp. A hook's error is ignored: these are advisory,
// never load-bearing for correctness.
var ioOptimizations []func(st os.FileInfo, fh *os.File) error

func applyIOOptimizations(fh *os.File) {
	st, err := fh.Stat()
	if err != nil {
		return
	}
	for _, opt := range ioOptimizations {
		_ = opt(st, fh)
	}
}
