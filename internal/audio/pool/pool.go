// Package pool implements the process-wide, per-element-type buffer
// free-list every pipeline stage acquires its per-frame scratch space
// from: one pool for int16 PCM sample buffers, another for the int32
// accumulator the Mixer sums layers into.
package pool

import "sync"

const (
	// DefaultCapacity is the sample capacity a freshly allocated buffer
	// gets: enough for one 20ms/48kHz/stereo frame plus headroom.
	DefaultCapacity = 4096
	// MaxRetained caps how many buffers the free-list keeps on hand;
	// anything released beyond this is left for the GC.
	MaxRetained = 128
)

// Buffer is a reusable sample slice. Callers must not retain a Buffer's
// Samples after Release.
type Buffer[T any] struct {
	Samples []T
}

func (b *Buffer[T]) reset() {
	b.Samples = b.Samples[:0]
}

// Resize returns b.Samples resized to exactly n elements, zero-filled,
// reusing the existing backing array when it already has capacity.
func (b *Buffer[T]) Resize(n int) []T {
	if cap(b.Samples) < n {
		b.Samples = make([]T, n)
		return b.Samples
	}
	b.Samples = b.Samples[:n]
	var zero T
	for i := range b.Samples {
		b.Samples[i] = zero
	}
	return b.Samples
}

// Pool is a capped free-list of Buffers. The zero value is not usable;
// use New. Safe for concurrent use.
type Pool[T any] struct {
	mu   sync.Mutex
	free []*Buffer[T]
}

// New returns an empty pool ready to acquire from.
func New[T any]() *Pool[T] {
	return &Pool[T]{}
}

// Acquire returns a cleared buffer, reusing one from the free-list when
// available and allocating DefaultCapacity elements otherwise.
func (p *Pool[T]) Acquire() *Buffer[T] {
	p.mu.Lock()
	n := len(p.free)
	if n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		b.reset()
		return b
	}
	p.mu.Unlock()
	return &Buffer[T]{Samples: make([]T, 0, DefaultCapacity)}
}

// Release clears buf and returns it to the free-list, unless the
// free-list is already at MaxRetained, in which case buf is dropped for
// the garbage collector to reclaim.
func (p *Pool[T]) Release(buf *Buffer[T]) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= MaxRetained {
		return
	}
	buf.reset()
	p.free = append(p.free, buf)
}

// Len reports how many buffers currently sit in the free-list, for
// metrics and tests.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

var (
	int16Once sync.Once
	int16Pool *Pool[int16]

	int32Once sync.Once
	int32Pool *Pool[int32]
)

// Int16 returns the process-wide pool of int16 PCM sample buffers,
// lazily initialized on first use — the element-type-keyed global the
// decode stage acquires frame storage from.
func Int16() *Pool[int16] {
	int16Once.Do(func() { int16Pool = New[int16]() })
	return int16Pool
}

// Int32 returns the process-wide pool of int32 mix-accumulator
// buffers, lazily initialized on first use.
func Int32() *Pool[int32] {
	int32Once.Do(func() { int32Pool = New[int32]() })
	return int32Pool
}
