// Package paramtree implements the parameter store of spec.md 4.C9: a
// single versioned Value tree, published through an internal/buffer
// so every cycler and communication-server connection reads a
// wait-free, always-consistent snapshot, with Read/Write/Subscribe
// operations and deep-merge write semantics. The non-blocking
// subscriber fan-out (drop-on-full rather than block-the-writer) is
// grounded on engine/internal/telemetry/events/events.go's eventBus.
package paramtree

import (
	"sync"
	"sync/atomic"

	"github.com/fieldcycler/runtime/internal/buffer"
	"github.com/fieldcycler/runtime/internal/valuetree"
)

// Tree is the running parameter store for one scheduler session.
type Tree struct {
	buf    *buffer.Buffer[valuetree.Value]
	writer *buffer.Writer[valuetree.Value]

	writeMu sync.Mutex // serializes Write's read-merge-publish sequence

	subMu   sync.RWMutex
	subs    map[int64]*subscriber
	nextSub int64
}

// NewTree constructs an empty parameter tree sized for readers concurrent
// readers (cyclers binding parameters plus communication-server
// connections reading the live tree), per spec.md 4.C1's S = 2+N sizing.
func NewTree(readers int) *Tree {
	buf := buffer.NewBuffer[valuetree.Value](2 + readers)
	t := &Tree{buf: buf, writer: buf.NewWriter(), subs: make(map[int64]*subscriber)}
	g := t.writer.Next()
	g.Set(valuetree.Object(nil))
	g.Publish()
	return t
}

// NewReader returns a dedicated reader pinned to the tree's latest
// published value; callers that bind parameters every tick (cyclers)
// should keep one Reader rather than allocating per call.
func (t *Tree) NewReader() *buffer.Reader[valuetree.Value] { return t.buf.NewReader() }

// Read returns the tree's current value.
func (t *Tree) Read() valuetree.Value {
	r := t.buf.NewReader()
	defer r.Release()
	v, _ := r.Next().Value()
	return v
}

// Write deep-merges patch into the tree at path (expanding any
// "$cycler_instance" segment against instance), and publishes the result
// as the new latest value. Every subscriber is notified with the full,
// newly-published tree.
func (t *Tree) Write(path valuetree.Path, instance string, patch valuetree.Value) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	current := t.Read()
	wrapped := wrapAtPath(path.Segments, instance, patch)
	merged := valuetree.Merge(current, wrapped)

	g := t.writer.Next()
	g.Set(merged)
	g.Publish()

	t.broadcast(merged)
}

func wrapAtPath(segments []valuetree.Segment, instance string, value valuetree.Value) valuetree.Value {
	if len(segments) == 0 {
		return value
	}
	name := segments[0].Name
	if segments[0].Kind == valuetree.SegmentVariable {
		name = instance
	}
	return valuetree.Object(map[string]valuetree.Value{name: wrapAtPath(segments[1:], instance, value)})
}

type subscriber struct {
	id      int64
	ch      chan valuetree.Value
	dropped atomic.Uint64
}

// Subscription is returned by Subscribe; call Close to stop receiving
// updates and release the channel.
type Subscription struct {
	tree *Tree
	sub  *subscriber
}

func (s *Subscription) C() <-chan valuetree.Value { return s.sub.ch }
func (s *Subscription) Close() {
	s.tree.subMu.Lock()
	delete(s.tree.subs, s.sub.id)
	s.tree.subMu.Unlock()
	close(s.sub.ch)
}
func (s *Subscription) Dropped() uint64 { return s.sub.dropped.Load() }

// Subscribe registers for every subsequent Write's resulting full tree.
// A slow subscriber that cannot keep up has updates dropped rather than
// stalling Write.
func (t *Tree) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	t.subMu.Lock()
	t.nextSub++
	sub := &subscriber{id: t.nextSub, ch: make(chan valuetree.Value, buffer)}
	t.subs[sub.id] = sub
	t.subMu.Unlock()
	return &Subscription{tree: t, sub: sub}
}

func (t *Tree) broadcast(v valuetree.Value) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for _, s := range t.subs {
		select {
		case s.ch <- v:
		default:
			s.dropped.Add(1)
		}
	}
}
