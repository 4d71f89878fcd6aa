//go:build !linux

package planner

func init() {
	totalSystemMemoryBytesFn = func() (uint64, bool) {
		return 0, false
	}
}
