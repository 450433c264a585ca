// Package bufferpool hands out reusable byte slices for frame
// encoding and index scans, keeping per-operation allocations off the
// hot read and flush paths.
package bufferpool

import "sync"

// Two size classes: keys and index entries land in the small class,
// value records in the large one. Requests beyond the large class are
// plain allocations and never pooled.
const (
	smallBufferSize = 1024
	largeBufferSize = 64 * 1024
)

var (
	small = sync.Pool{
		New: func() any {
			return make([]byte, 0, smallBufferSize)
		},
	}
	large = sync.Pool{
		New: func() any {
			return make([]byte, 0, largeBufferSize)
		},
	}
)

// Get returns a slice of length size backed by pooled capacity where
// possible.
func Get(size int) []byte {
	var buf []byte
	switch {
	case size <= smallBufferSize:
		buf = small.Get().([]byte)
	case size <= largeBufferSize:
		buf = large.Get().([]byte)
	default:
		return make([]byte, size)
	}
	return buf[:size]
}

// Put returns a slice to its pool. Slices whose capacity doesn't match
// a pool class are left to the garbage collector.
func Put(buf []byte) {
	switch cap(buf) {
	case smallBufferSize:
		small.Put(buf[:0])
	case largeBufferSize:
		large.Put(buf[:0])
	}
}
