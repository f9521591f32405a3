//go:build !linux

// File: internal/concurrency/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

// platformPin only keeps the thread lock; CPU masks are not portable.
func platformPin(int) error { return nil }
