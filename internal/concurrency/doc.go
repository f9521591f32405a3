// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Low-level primitives shared by the buffer pools and the ring simulator:
// a single-producer single-consumer index ring and OS thread pinning for
// per-radio poll loops.
package concurrency
