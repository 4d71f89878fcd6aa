package planner

import "golang.org/x/sys/unix"

// Mirrors Gerbil's own getTotalSystemMemory(), which calls sysinfo() and
// multiplies Totalram by the reported mem_unit.
func init() {
	totalSystemMemoryBytesFn = func() (uint64, bool) {
		var info unix.Sysinfo_t
		if err := unix.Sysinfo(&info); err != nil {
			return 0, false
		}
		return uint64(info.Totalram) * uint64(info.Unit), true
	}
}
