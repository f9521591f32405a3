// File: internal/concurrency/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread pinning for poll loops.

package concurrency

import "runtime"

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpu. A negative cpu only locks the thread. The lock is kept
// even when binding fails; release it with UnpinCurrentThread.
func PinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	if cpu < 0 {
		return nil
	}
	return platformPin(cpu)
}

// UnpinCurrentThread releases the thread lock. The thread keeps any CPU mask
// already applied; a goroutine that exits while locked takes its thread with
// it instead.
func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}

// NumCPUs returns the number of logical CPUs.
func NumCPUs() int { return runtime.NumCPU() }
