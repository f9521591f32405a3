//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux platform probes: what bounds the mmap DMA arena.

package control

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// RegisterPlatformProbes sets Linux-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.pagesize", func() any {
		return unix.Getpagesize()
	})
	dp.RegisterProbe("platform.memlock", func() any {
		var lim unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &lim); err != nil {
			return err.Error()
		}
		return lim.Cur
	})
}
