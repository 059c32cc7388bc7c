package events

import (
	"testing"
	"time"
)

func TestPublishRequiresCategory(t *testing.T) {
	bus := NewBus(nil)
	if err := bus.Publish(Event{Type: "tick"}); err == nil {
		t.Fatal("expected an error for a category-less event")
	}
}

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(4)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := bus.Publish(Event{Category: CategoryCycler, Type: "tick"}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub.C():
		if ev.Category != CategoryCycler {
			t.Fatalf("expected category %q, got %q", CategoryCycler, ev.Category)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberDropsRatherThanBlocksPublish(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(1)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		if err := bus.Publish(Event{Category: CategoryScheduler, Type: "tick"}); err != nil {
			t.Fatal(err)
		}
	}

	stats := bus.Stats()
	if stats.Dropped == 0 {
		t.Fatal("expected at least one dropped event once the subscriber buffer filled")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Unsubscribe(sub); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected the subscriber channel to be closed")
	}
}
