// Package futurequeue implements the announce/finalize future queue of
// spec.md 4.C2: a producer announces the timestamp of a value before it is
// computed, finalizes it once the computation lands, and the queue drains
// only the prefix of finalized entries that lies entirely before the
// earliest timestamp any producer has announced but not yet finalized.
// Modeled on the BTreeMap<SystemTime, Databases> plus
// first_timestamp_of_temporary_databases watermark of
// original_source/crates/framework/src/perception_databases.rs.
package futurequeue

import (
	"fmt"
	"sort"
	"time"
)

type record[T any] struct {
	timestamp time.Time
	value     T
	finalized bool
}

// Entry is one drained, finalized value.
type Entry[T any] struct {
	Timestamp time.Time
	Value     T
}

// Queue is safe for use by multiple producer goroutines calling Announce
// and Finalize, and a single consumer goroutine calling Drain, provided the
// caller serializes access externally (the cycler runtime owns one Queue
// per producing cycler and calls it only from that cycler's own goroutine
// plus whichever goroutines finalize its announced futures).
type Queue[T any] struct {
	order   []time.Time // ascending, all timestamps ever announced and still held
	records map[time.Time]*record[T]

	// pending holds, per producer, the FIFO of timestamps it has announced
	// but not yet finalized; announcements from one producer must finalize
	// in the order they were announced.
	pending map[string][]time.Time
	// lastAnnounced enforces "announcements strictly increase in timestamp
	// per producer" (spec.md 4.C2 invariant 1).
	lastAnnounced map[string]time.Time
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		records:       make(map[time.Time]*record[T]),
		pending:       make(map[string][]time.Time),
		lastAnnounced: make(map[string]time.Time),
	}
}

// Announce registers that producer will finalize a value timestamped t at
// some point in the future. Returns an error if t does not strictly exceed
// that producer's previous announcement.
func (q *Queue[T]) Announce(producer string, t time.Time) error {
	if last, ok := q.lastAnnounced[producer]; ok && !t.After(last) {
		return fmt.Errorf("futurequeue: producer %q announced %s out of order after %s", producer, t, last)
	}
	q.lastAnnounced[producer] = t
	q.pending[producer] = append(q.pending[producer], t)

	i := sort.Search(len(q.order), func(i int) bool { return !q.order[i].Before(t) })
	q.order = append(q.order, time.Time{})
	copy(q.order[i+1:], q.order[i:])
	q.order[i] = t
	q.records[t] = &record[T]{timestamp: t}
	return nil
}

// Finalize supplies the value for the oldest timestamp producer announced
// but has not yet finalized. Returns an error if t does not match that
// timestamp (finalization must happen in announce order) or nothing is
// pending for producer.
func (q *Queue[T]) Finalize(producer string, t time.Time, value T) error {
	queue := q.pending[producer]
	if len(queue) == 0 {
		return fmt.Errorf("futurequeue: producer %q has no pending announcement to finalize", producer)
	}
	if !queue[0].Equal(t) {
		return fmt.Errorf("futurequeue: producer %q must finalize %s before %s", producer, queue[0], t)
	}
	q.pending[producer] = queue[1:]
	rec, ok := q.records[t]
	if !ok {
		return fmt.Errorf("futurequeue: no record for timestamp %s", t)
	}
	rec.value = value
	rec.finalized = true
	return nil
}

// Watermark returns the earliest timestamp any producer has announced but
// not finalized ("first_timestamp_of_non_finalized_database"). The second
// return is false if every producer is fully caught up, meaning every
// finalized entry held is eligible to drain.
func (q *Queue[T]) Watermark() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, queue := range q.pending {
		if len(queue) == 0 {
			continue
		}
		if !found || queue[0].Before(earliest) {
			earliest = queue[0]
			found = true
		}
	}
	return earliest, found
}

// Drain removes and returns, in ascending timestamp order, every finalized
// entry whose timestamp precedes the current watermark (or every finalized
// entry if no producer has an outstanding announcement).
func (q *Queue[T]) Drain() []Entry[T] {
	watermark, hasWatermark := q.Watermark()
	var out []Entry[T]
	keep := q.order[:0:0]
	for _, t := range q.order {
		rec := q.records[t]
		if rec.finalized && (!hasWatermark || t.Before(watermark)) {
			out = append(out, Entry[T]{Timestamp: t, Value: rec.value})
			delete(q.records, t)
			continue
		}
		keep = append(keep, t)
	}
	q.order = keep
	return out
}

// Pending reports, for diagnostics, how many announced-but-unfinalized
// timestamps each producer currently holds.
func (q *Queue[T]) Pending() map[string]int {
	out := make(map[string]int, len(q.pending))
	for producer, queue := range q.pending {
		out[producer] = len(queue)
	}
	return out
}
