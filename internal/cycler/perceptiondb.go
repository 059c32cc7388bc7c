package cycler

import (
	"sort"
	"time"

	"github.com/fieldcycler/runtime/internal/futurequeue"
)

// Update is one perception cycler's contribution to a RealTime cycler's
// tick: the items it finalized since the last tick, plus (if it still has
// an outstanding announcement) the timestamp that announcement is
// pinned to.
type Update[T any] struct {
	Items                            []futurequeue.Entry[T]
	FirstTimestampOfNonFinalized time.Time
	HasFirstTimestampOfNonFinalized bool
}

// PerceptionDatabases merges, per real-time tick, the finalized outputs
// of every perception cycler a RealTime cycler reads, keyed by the
// timestamp they were produced for. It tracks which timestamps are still
// "temporary" (awaiting at least one perception cycler's output) versus
// "persistent" (every perception cycler has caught up past them).
// Grounded directly on original_source/crates/framework/src/
// perception_databases.rs's BTreeMap<SystemTime, Databases> plus
// first_timestamp_of_temporary_databases watermark.
type PerceptionDatabases[T any] struct {
	order   []time.Time
	byTime  map[time.Time]map[string][]T
	watermark    time.Time
	hasWatermark bool
}

func NewPerceptionDatabases[T any]() *PerceptionDatabases[T] {
	return &PerceptionDatabases[T]{byTime: make(map[time.Time]map[string][]T)}
}

// Update advances the merge window to now and folds in this tick's
// per-producer updates, exactly mirroring PerceptionDatabases::update in
// perception_databases.rs: entries before the new watermark are dropped
// (they are fully persistent and no longer need merging), a fresh empty
// entry is created for now, and every update's items are pushed into the
// entry matching their own timestamp.
func (p *PerceptionDatabases[T]) Update(now time.Time, updates map[string]Update[T]) {
	if p.hasWatermark {
		p.retainFrom(p.watermark)
	} else {
		p.order = nil
		p.byTime = make(map[time.Time]map[string][]T)
	}

	p.insert(now)

	p.hasWatermark = false
	for _, u := range updates {
		if !u.HasFirstTimestampOfNonFinalized {
			continue
		}
		if !p.hasWatermark || u.FirstTimestampOfNonFinalized.Before(p.watermark) {
			p.watermark = u.FirstTimestampOfNonFinalized
			p.hasWatermark = true
		}
	}

	for producer, u := range updates {
		for _, item := range u.Items {
			bucket, ok := p.byTime[item.Timestamp]
			if !ok {
				continue // a finalized item referencing a since-pruned timestamp is dropped
			}
			bucket[producer] = append(bucket[producer], item.Value)
		}
	}
}

// Watermark returns the earliest timestamp still awaiting at least one
// perception cycler's output ("first_timestamp_of_temporary_databases").
func (p *PerceptionDatabases[T]) Watermark() (time.Time, bool) {
	return p.watermark, p.hasWatermark
}

// Persistent returns, in ascending order, every timestamp strictly before
// the watermark (or all of them if there is no watermark).
func (p *PerceptionDatabases[T]) Persistent() []time.Time {
	if !p.hasWatermark {
		return append([]time.Time(nil), p.order...)
	}
	i := sort.Search(len(p.order), func(i int) bool { return !p.order[i].Before(p.watermark) })
	return append([]time.Time(nil), p.order[:i]...)
}

// Temporary returns, in ascending order, every timestamp at or after the
// watermark (empty if there is no watermark).
func (p *PerceptionDatabases[T]) Temporary() []time.Time {
	if !p.hasWatermark {
		return nil
	}
	i := sort.Search(len(p.order), func(i int) bool { return !p.order[i].Before(p.watermark) })
	return append([]time.Time(nil), p.order[i:]...)
}

// At returns every producer's contributions recorded for timestamp t.
func (p *PerceptionDatabases[T]) At(t time.Time) map[string][]T {
	return p.byTime[t]
}

func (p *PerceptionDatabases[T]) retainFrom(watermark time.Time) {
	i := sort.Search(len(p.order), func(i int) bool { return !p.order[i].Before(watermark) })
	kept := append([]time.Time(nil), p.order[i:]...)
	for _, t := range p.order[:i] {
		delete(p.byTime, t)
	}
	p.order = kept
}

func (p *PerceptionDatabases[T]) insert(t time.Time) {
	if _, exists := p.byTime[t]; exists {
		return
	}
	i := sort.Search(len(p.order), func(i int) bool { return !p.order[i].Before(t) })
	p.order = append(p.order, time.Time{})
	copy(p.order[i+1:], p.order[i:])
	p.order[i] = t
	p.byTime[t] = make(map[string][]T)
}
