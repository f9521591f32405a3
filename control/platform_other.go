//go:build !linux
// +build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>
//
// Platforms without the mmap arena only report the basics.

package control

import (
	"os"
	"runtime"
)

// RegisterPlatformProbes sets the portable debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.pagesize", func() any {
		return os.Getpagesize()
	})
}
