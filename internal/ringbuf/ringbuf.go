// Package ringbuf provides a fixed-capacity ring that overwrites its oldest
// entry when full. It backs the per-session replay buffer, the API latency
// window and the windowed moving averages.
package ringbuf

// Ring holds the last Cap() values pushed. Not safe for concurrent use;
// callers hold their own lock.
type Ring[T any] struct {
	buf     []T
	head    uint64 // total pushes
	evicted uint64
}

// New creates a ring holding capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring is full the oldest value is overwritten and
// returned with evicted set.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	n := uint64(len(r.buf))
	slot := r.head % n
	if r.head >= n {
		old, evicted = r.buf[slot], true
		r.evicted++
	}
	r.buf[slot] = v
	r.head++
	return old, evicted
}

// At returns the i-th value held, 0 being the oldest. It panics when i is
// out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.Len() {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.start()+uint64(i))%uint64(len(r.buf))]
}

// Reset empties the ring, keeping its capacity.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.evicted = 0, 0
}

func (r *Ring[T]) start() uint64 {
	if n := uint64(len(r.buf)); r.head > n {
		return r.head - n
	}
	return 0
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int {
	if r.head < uint64(len(r.buf)) {
		return int(r.head)
	}
	return len(r.buf)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns how many values were overwritten since creation.
func (r *Ring[T]) Evicted() uint64 {
	return r.evicted
}

// Do calls fn for every value held, oldest first.
func (r *Ring[T]) Do(fn func(v T)) {
	n := uint64(len(r.buf))
	for i := r.start(); i < r.head; i++ {
		fn(r.buf[i%n])
	}
}

// Snapshot returns the values held, oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.Len())
	r.Do(func(v T) { out = append(out, v) })
	return out
}
