package graph

import "testing"

func TestSessionKeyRoundTrips(t *testing.T) {
	key := SessionKey("proudstar", "abc123@head")
	info, err := ParseSessionKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Namespace != "proudstar" || info.ID != "abc123@head" {
		t.Fatalf("unexpected session info: %+v", info)
	}
}

func TestNodeKeyRoundTrips(t *testing.T) {
	key := NodeKey("proudstar", "vision_top")
	info, err := ParseNodeKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Namespace != "proudstar" || info.Name != "vision_top" {
		t.Fatalf("unexpected node info: %+v", info)
	}
}

func TestPublisherKeyRoundTripsWithNestedPath(t *testing.T) {
	key := PublisherKey("proudstar", "vision_top", ScopeGlobal, "ball_filter/ball_position")
	info, err := ParsePublisherKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Namespace != "proudstar" || info.Node != "vision_top" || info.Scope != ScopeGlobal {
		t.Fatalf("unexpected publisher info: %+v", info)
	}
	if info.Path != "ball_filter/ball_position" {
		t.Fatalf("expected nested path to survive the join/split round trip, got %q", info.Path)
	}
	if got := info.DisplayPath(); got != "/ball_filter/ball_position" {
		t.Fatalf("expected global display path prefixed with /, got %q", got)
	}
}

func TestParameterKeyPrivateScopeDisplayPath(t *testing.T) {
	key := ParameterKey("proudstar", "behavior", ScopePrivate, "walk/max_step_size")
	info, err := ParseParameterKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.DisplayPath(); got != "~/walk/max_step_size" {
		t.Fatalf("expected private display path prefixed with ~/, got %q", got)
	}
}

func TestParseSessionKeyRejectsWrongPartCount(t *testing.T) {
	if _, err := ParseSessionKey("hulkz/graph/sessions/proudstar"); err == nil {
		t.Fatal("expected an error for a truncated session key")
	}
}

func TestParseNodeKeyRejectsForeignPrefix(t *testing.T) {
	if _, err := ParseNodeKey("other/graph/nodes/proudstar/vision_top"); err == nil {
		t.Fatal("expected an error for a key outside the hulkz/graph namespace")
	}
}

func TestParsePublisherKeyRejectsWrongEntity(t *testing.T) {
	key := NodeKey("proudstar", "vision_top")
	if _, err := ParsePublisherKey(key); err == nil {
		t.Fatal("expected an error when parsing a node key as a publisher key")
	}
}

func TestParsePublisherKeyRejectsInvalidScope(t *testing.T) {
	if _, err := ParsePublisherKey("hulkz/graph/publishers/proudstar/vision_top/regional/ball_position"); err == nil {
		t.Fatal("expected an error for an invalid scope segment")
	}
}

func TestParseScopeRejectsUnknownValue(t *testing.T) {
	if _, err := ParseScope("regional"); err == nil {
		t.Fatal("expected an error for an unrecognized scope")
	}
}

func TestDisplayPathLocalScopeHasNoPrefix(t *testing.T) {
	info := PublisherInfo{Scope: ScopeLocal, Path: "raw/frame"}
	if got := info.DisplayPath(); got != "raw/frame" {
		t.Fatalf("expected local scope to have no prefix, got %q", got)
	}
}
