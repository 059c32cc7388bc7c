package historic

import (
	"testing"
	"time"
)

func ts(sec int) time.Time { return time.Unix(0, 0).Add(time.Duration(sec) * time.Second) }

func TestGetReturnsLargestTimestampNotAfter(t *testing.T) {
	db := NewDatabase[string]()
	db.Insert(ts(1), "a")
	db.Insert(ts(3), "c")
	db.Insert(ts(5), "e")

	v, ok := db.Get(ts(4))
	if !ok || v != "c" {
		t.Fatalf("expected c at t=4, got %v %v", v, ok)
	}
	v, ok = db.Get(ts(0))
	if ok {
		t.Fatalf("expected no snapshot before the first insert, got %v", v)
	}
	v, ok = db.Get(ts(10))
	if !ok || v != "e" {
		t.Fatalf("expected e for any t past the last insert, got %v %v", v, ok)
	}
}

func TestPruneBeforeKeepsFloorEntry(t *testing.T) {
	db := NewDatabase[int]()
	db.Insert(ts(1), 1)
	db.Insert(ts(2), 2)
	db.Insert(ts(3), 3)
	db.PruneBefore(ts(3))

	if db.Len() != 2 {
		t.Fatalf("expected the floor entry (t=2) plus t=3 retained, got %d", db.Len())
	}
	v, ok := db.Get(ts(2))
	if !ok || v != 2 {
		t.Fatalf("expected t=2 still queryable as the floor, got %v %v", v, ok)
	}
}

func TestLatest(t *testing.T) {
	db := NewDatabase[int]()
	if _, _, ok := db.Latest(); ok {
		t.Fatal("expected no latest on an empty database")
	}
	db.Insert(ts(1), 10)
	db.Insert(ts(2), 20)
	when, v, ok := db.Latest()
	if !ok || v != 20 || !when.Equal(ts(2)) {
		t.Fatalf("unexpected latest: %v %v %v", when, v, ok)
	}
}
