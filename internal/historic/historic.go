// Package historic implements the historic snapshot database of
// spec.md 4.C3: a time-indexed ring of past values, pruned to the earliest
// timestamp still of interest, that answers "what was the value at or
// before time t" queries. Grounded on the persistent/temporary split of
// original_source/crates/framework/src/perception_databases.rs, with the
// future queue's watermark (internal/futurequeue) supplying the prune
// boundary.
package historic

import (
	"sort"
	"time"
)

// Database stores snapshots of T keyed by timestamp and answers
// largest-timestamp-not-after queries.
type Database[T any] struct {
	order  []time.Time // ascending
	values map[time.Time]T
}

func NewDatabase[T any]() *Database[T] {
	return &Database[T]{values: make(map[time.Time]T)}
}

// Insert records a new snapshot. Timestamps are expected to arrive in
// non-decreasing order (the cycler runtime inserts once per tick), but
// Insert tolerates an out-of-order arrival by inserting in sorted position.
func (d *Database[T]) Insert(t time.Time, v T) {
	if _, exists := d.values[t]; exists {
		d.values[t] = v
		return
	}
	i := sort.Search(len(d.order), func(i int) bool { return !d.order[i].Before(t) })
	d.order = append(d.order, time.Time{})
	copy(d.order[i+1:], d.order[i:])
	d.order[i] = t
	d.values[t] = v
}

// Get returns the snapshot at the largest stored timestamp <= t, as
// required by spec.md 4.C3's "get(t)" operation.
func (d *Database[T]) Get(t time.Time) (T, bool) {
	i := sort.Search(len(d.order), func(i int) bool { return d.order[i].After(t) })
	if i == 0 {
		var zero T
		return zero, false
	}
	return d.values[d.order[i-1]], true
}

// Latest returns the most recently inserted snapshot.
func (d *Database[T]) Latest() (time.Time, T, bool) {
	if len(d.order) == 0 {
		var zero T
		return time.Time{}, zero, false
	}
	t := d.order[len(d.order)-1]
	return t, d.values[t], true
}

// PruneBefore discards every snapshot strictly older than watermark
// except the newest of them, which is kept as the floor so a subsequent
// Get(watermark) still resolves (spec.md 4.C3: pruning never removes the
// snapshot a still-outstanding query could need).
func (d *Database[T]) PruneBefore(watermark time.Time) {
	i := sort.Search(len(d.order), func(i int) bool { return !d.order[i].Before(watermark) })
	// Keep one entry before the cut, if one exists, as the floor for Get.
	keepFrom := i
	if keepFrom > 0 {
		keepFrom--
	}
	for _, t := range d.order[:keepFrom] {
		delete(d.values, t)
	}
	d.order = append([]time.Time(nil), d.order[keepFrom:]...)
}

// Len reports how many snapshots are currently retained.
func (d *Database[T]) Len() int { return len(d.order) }
