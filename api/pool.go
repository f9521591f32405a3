// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Generic object pooling contract for transient per-PPDU records.

package api

// ObjectPool recycles records whose lifetime ends with one PPDU, such as
// Transmission-Info accumulators.
type ObjectPool[T any] interface {
	// Get returns a record ready to be reset by the caller.
	Get() T
	// Put hands back a record nothing references any more.
	Put(obj T)
}
