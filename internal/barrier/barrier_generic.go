//go:build !amd64

package barrier

import "sync/atomic"

var sink atomic.Uint32

// Speculation is a best-effort ordering fence on architectures without a
// dedicated speculation barrier: a sequentially consistent
// read-modify-write orders the surrounding accesses.
func Speculation() {
	sink.Add(0)
}
