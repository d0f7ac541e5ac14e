// Package pools holds the byte-slice pooling the C3 driver's
// read-ahead buffers and the C8 writer/spooler's chunk buffers draw
// from, per SPEC_FULL.md §0. A tiered sync.Pool-of-pools amortizes
// allocation across the buffer sizes those subsystems actually ask
// for (4KB read-ahead start, 32KB writer/spooler chunks), grounded on
// the teacher's core/pools/byte_pool.go.
package pools

import "sync"

// BytePool is a multi-tiered byte slice pool: Get/Put round a
// requested size up to the nearest configured tier so repeated
// driver reads and writer/spooler chunk fills reuse the same backing
// arrays instead of allocating fresh ones every call.
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// defaultSizes span the driver's initial read-ahead buffer (4KB,
// doubled up to Limits.ReadAhead as needed) through the writer and
// spooler's default 32KB chunk size.
var defaultSizes = []int{
	4096,  // driver read-ahead start (core/driver.beginReadAhead)
	8192,  // grown read-ahead / small responses
	32768, // writer/spooler chunk buffers (core/writer default BufSize)
}

// NewBytePool creates a byte pool sized for the driver/writer/spooler
// tiers above.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}
	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}
	return bp
}

// Get returns a byte slice of at least the requested size, drawn from
// the smallest tier that fits.
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bufPtr := bp.pools[i].Get().(*[]byte)
			buf := *bufPtr
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its tier's pool by matching capacity; a buffer
// grown past the largest tier (core/driver.grow) is simply dropped for
// the GC to reclaim.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}
