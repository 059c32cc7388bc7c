package outputs

import (
	"testing"
	"time"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

func registerWithValue(r *Router, instance string, v valuetree.Value) {
	current := v
	r.RegisterCycler(instance, []string{"ball_position"}, func() (valuetree.Value, bool) { return current, true })
}

func TestGetFieldsSynthesizesLocallyWithoutReadingProviders(t *testing.T) {
	r := NewRouter(nil)
	r.RegisterCycler("Control.main", []string{"ball_position"}, func() (valuetree.Value, bool) {
		t.Fatal("GetFields must not contact the provider")
		return valuetree.Value{}, false
	})
	fields := r.GetFields()
	if len(fields["Control.main"]) != 1 || fields["Control.main"][0] != "ball_position" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestSubscribeReturnsInitialValueAndCachesInstance(t *testing.T) {
	r := NewRouter(nil)
	registerWithValue(r, "Control", valuetree.Object(map[string]valuetree.Value{
		"ball_position": valuetree.Number(7),
	}))

	v, _, err := r.Subscribe(1, 42, "Control.ball_position", FormatText)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := v.Number(); n != 7 {
		t.Fatalf("expected initial value 7, got %v", v)
	}

	if err := r.Unsubscribe(1, 42); err != nil {
		t.Fatal(err)
	}
	if err := r.Unsubscribe(1, 42); err == nil {
		t.Fatal("expected unsubscribing twice to fail the second time")
	}
}

func TestNotifyPublishPushesOnlyWhenSubscribedValueChanges(t *testing.T) {
	var updates []Update
	r := NewRouter(func(u Update) { updates = append(updates, u) })

	root := valuetree.Object(map[string]valuetree.Value{"ball_position": valuetree.Number(1)})
	registerWithValue(r, "Control", root)

	if _, _, err := r.Subscribe(1, 1, "Control.ball_position", FormatText); err != nil {
		t.Fatal(err)
	}

	// Same value republished: no update.
	r.NotifyPublish("Control", time.Now(), root)
	if len(updates) != 0 {
		t.Fatalf("expected no update for an unchanged value, got %d", len(updates))
	}

	changed := valuetree.Object(map[string]valuetree.Value{"ball_position": valuetree.Number(2)})
	r.NotifyPublish("Control", time.Now(), changed)
	if len(updates) != 1 {
		t.Fatalf("expected exactly one update after a changed value, got %d", len(updates))
	}
	if n, _ := updates[0].Value.Number(); n != 2 {
		t.Fatalf("expected update value 2, got %v", updates[0].Value)
	}
}

func TestUnsubscribeEverythingPurgesAllOfAClientsSubscriptions(t *testing.T) {
	var updates []Update
	r := NewRouter(func(u Update) { updates = append(updates, u) })
	registerWithValue(r, "Control", valuetree.Object(map[string]valuetree.Value{"ball_position": valuetree.Number(1)}))
	registerWithValue(r, "Vision", valuetree.Object(map[string]valuetree.Value{"image": valuetree.Number(1)}))

	if _, _, err := r.Subscribe(5, 1, "Control.ball_position", FormatText); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Subscribe(5, 2, "Vision.image", FormatText); err != nil {
		t.Fatal(err)
	}

	r.UnsubscribeEverything(5)

	r.NotifyPublish("Control", time.Now(), valuetree.Object(map[string]valuetree.Value{"ball_position": valuetree.Number(99)}))
	r.NotifyPublish("Vision", time.Now(), valuetree.Object(map[string]valuetree.Value{"image": valuetree.Number(99)}))
	if len(updates) != 0 {
		t.Fatalf("expected no updates after UnsubscribeEverything, got %d", len(updates))
	}
}

func TestSubscribePathOutsideKnownInstanceFails(t *testing.T) {
	r := NewRouter(nil)
	if _, _, err := r.Subscribe(1, 1, "Unknown.field", FormatText); err == nil {
		t.Fatal("expected an error for an unregistered instance")
	}
}

func TestSubscribeMalformedPathFails(t *testing.T) {
	r := NewRouter(nil)
	if _, _, err := r.Subscribe(1, 1, "no-dot-here", FormatText); err == nil {
		t.Fatal("expected an error for a path with no instance separator")
	}
}
