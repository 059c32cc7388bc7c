package hal

import (
	"testing"
	"time"
)

func TestSimulatedClockAdvances(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewSimulatedClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected initial time %v, got %v", start, c.Now())
	}
	next := c.Advance(10 * time.Millisecond)
	if !next.Equal(start.Add(10 * time.Millisecond)) {
		t.Fatalf("unexpected advanced time: %v", next)
	}
	if !c.Now().Equal(next) {
		t.Fatalf("Now() did not reflect advance: %v", c.Now())
	}
}
