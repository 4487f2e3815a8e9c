//go:build linux

package memtest

import "golang.org/x/sys/unix"

// DefaultBudget derives a plausible simulated video memory budget from
// host memory: half of total RAM, floored at 1 GiB.
func DefaultBudget() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return fallbackBudget
	}
	total := uint64(info.Totalram) * uint64(info.Unit)
	if total/2 < fallbackBudget {
		return fallbackBudget
	}
	return total / 2
}
