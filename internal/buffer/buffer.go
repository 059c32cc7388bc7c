// Package buffer implements the wait-free, shared-latest multi-slot
// channel described in spec.md 4.C1: a fixed pool of slots lets any
// writer claim an unused slot, publish it as the new "latest", and any
// number of readers pin the current latest without ever blocking a
// writer, because the pool is sized so a free slot always exists.
package buffer

import (
	"sync"
	"sync/atomic"
)

type slotState int32

const (
	stateFree slotState = iota
	stateWriting
	statePublished
)

type slot[T any] struct {
	mu    sync.Mutex // guards value during the Writing phase only
	value T
	state atomic.Int32
	refs  atomic.Int32
}

// Buffer is the shared-latest channel. Construct with NewBuffer, sizing
// slots = 2 + readers per spec.md 4.C8 step 2 (2 writer slots + one per
// reader never starves a writer).
type Buffer[T any] struct {
	slots  []*slot[T]
	latest atomic.Int32 // index into slots, -1 until the first publish
}

func NewBuffer[T any](slots int) *Buffer[T] {
	if slots < 1 {
		slots = 1
	}
	b := &Buffer[T]{slots: make([]*slot[T], slots)}
	for i := range b.slots {
		b.slots[i] = &slot[T]{}
	}
	b.latest.Store(-1)
	return b
}

// Writer claims exclusive slots to publish new values.
type Writer[T any] struct{ buf *Buffer[T] }

func (b *Buffer[T]) NewWriter() *Writer[T] { return &Writer[T]{buf: b} }

// WriteGuard is exclusive access to a claimed slot, released via Publish.
type WriteGuard[T any] struct {
	buf *Buffer[T]
	idx int
}

// Next claims an unused slot. By construction (writer count <= 2, reader
// count <= N, slots = 2+N) a claimable slot always exists, so Next never
// blocks on contention; it spins only across the O(slots) scan.
func (w *Writer[T]) Next() *WriteGuard[T] {
	for {
		latest := w.buf.latest.Load()
		for i, s := range w.buf.slots {
			if int32(i) == latest {
				continue
			}
			if s.refs.Load() != 0 {
				continue
			}
			if !s.state.CompareAndSwap(int32(stateFree), int32(stateWriting)) {
				if !s.state.CompareAndSwap(int32(statePublished), int32(stateWriting)) {
					continue
				}
				// Re-check: the slot might have become latest or pinned
				// between our refs/latest checks and the CAS above.
				if w.buf.latest.Load() == int32(i) || s.refs.Load() != 0 {
					s.state.Store(int32(statePublished))
					continue
				}
			}
			s.mu.Lock()
			return &WriteGuard[T]{buf: w.buf, idx: i}
		}
		// Every slot was momentarily latest or pinned; retry the scan.
	}
}

// Set stores the value to be published.
func (g *WriteGuard[T]) Set(v T) {
	g.buf.slots[g.idx].value = v
}

// Get returns the value currently staged in the guard's slot.
func (g *WriteGuard[T]) Get() T {
	return g.buf.slots[g.idx].value
}

// Publish makes the guard's slot the new latest (release ordering) and
// frees the previously-latest slot for reuse once no reader still pins it.
func (g *WriteGuard[T]) Publish() {
	s := g.buf.slots[g.idx]
	s.state.Store(int32(statePublished))
	s.mu.Unlock()
	g.buf.latest.Store(int32(g.idx))
}

// Discard abandons the guard without publishing, freeing the slot.
func (g *WriteGuard[T]) Discard() {
	s := g.buf.slots[g.idx]
	s.state.Store(int32(stateFree))
	s.mu.Unlock()
}

// Reader pins and observes the current latest slot. A zero-value Reader is
// not usable; obtain one via Buffer.NewReader or Reader.Clone.
type Reader[T any] struct {
	buf    *Buffer[T]
	pinned int32 // slot index currently pinned, -1 if none
}

func (b *Buffer[T]) NewReader() *Reader[T] { return &Reader[T]{buf: b, pinned: -1} }

// Clone returns an independent reader over the same buffer; its pin (if
// any) is tracked separately from the original reader's.
func (r *Reader[T]) Clone() *Reader[T] { return &Reader[T]{buf: r.buf, pinned: -1} }

// View is a pinned, read-only observation of one published slot.
type View[T any] struct {
	ok    bool
	value T
}

func (v View[T]) Value() (T, bool) { return v.value, v.ok }

// Next releases any previously pinned slot and pins+returns the current
// latest (acquire ordering). Returns ok=false if nothing has been
// published yet.
func (r *Reader[T]) Next() View[T] {
	r.release()
	for {
		idx := r.buf.latest.Load()
		if idx < 0 {
			return View[T]{}
		}
		s := r.buf.slots[idx]
		s.refs.Add(1)
		if r.buf.latest.Load() == idx {
			r.pinned = idx
			return View[T]{ok: true, value: s.value}
		}
		// Latest moved between load and pin; release and retry.
		s.refs.Add(-1)
	}
}

// Release drops the reader's current pin without advancing. Safe to call
// even if nothing is pinned.
func (r *Reader[T]) Release() { r.release() }

func (r *Reader[T]) release() {
	if r.pinned < 0 {
		return
	}
	r.buf.slots[r.pinned].refs.Add(-1)
	r.pinned = -1
}
