package futurequeue

import (
	"testing"
	"time"
)

func ts(sec int) time.Time { return time.Unix(0, 0).Add(time.Duration(sec) * time.Second) }

func TestDrainOnlyBelowWatermark(t *testing.T) {
	q := NewQueue[int]()
	if err := q.Announce("vision", ts(1)); err != nil {
		t.Fatal(err)
	}
	if err := q.Announce("vision", ts(2)); err != nil {
		t.Fatal(err)
	}
	if err := q.Finalize("vision", ts(1), 100); err != nil {
		t.Fatal(err)
	}
	// ts(2) is still pending, so the watermark is ts(2); ts(1) is finalized
	// and lies below it, so it drains.
	got := q.Drain()
	if len(got) != 1 || got[0].Value != 100 {
		t.Fatalf("expected to drain the finalized entry before the watermark, got %+v", got)
	}

	if err := q.Finalize("vision", ts(2), 200); err != nil {
		t.Fatal(err)
	}
	got = q.Drain()
	if len(got) != 1 || got[0].Value != 200 {
		t.Fatalf("expected remaining entry to drain once fully caught up, got %+v", got)
	}
}

func TestAnnounceMustStrictlyIncrease(t *testing.T) {
	q := NewQueue[int]()
	if err := q.Announce("vision", ts(5)); err != nil {
		t.Fatal(err)
	}
	if err := q.Announce("vision", ts(5)); err == nil {
		t.Fatal("expected non-increasing announcement to fail")
	}
	if err := q.Announce("vision", ts(4)); err == nil {
		t.Fatal("expected out-of-order announcement to fail")
	}
}

func TestFinalizeMustMatchAnnounceOrder(t *testing.T) {
	q := NewQueue[int]()
	q.Announce("vision", ts(1))
	q.Announce("vision", ts(2))
	if err := q.Finalize("vision", ts(2), 1); err == nil {
		t.Fatal("expected finalize out of announce order to fail")
	}
}

func TestMultipleProducersWatermarkIsMinimum(t *testing.T) {
	q := NewQueue[int]()
	q.Announce("vision", ts(10))
	q.Announce("motion", ts(3))
	q.Finalize("vision", ts(10), 1)
	// motion still pending at ts(3): watermark is 3, so ts(10) (>=3) must
	// not drain yet even though it is finalized.
	got := q.Drain()
	if len(got) != 0 {
		t.Fatalf("expected nothing to drain while an earlier producer is still pending, got %+v", got)
	}
	q.Finalize("motion", ts(3), 2)
	got = q.Drain()
	if len(got) != 2 {
		t.Fatalf("expected both entries once all producers caught up, got %+v", got)
	}
}
