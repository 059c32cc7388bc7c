package valuetree

import "testing"

func TestMergeDeep(t *testing.T) {
	dst := Object(map[string]Value{
		"a": Object(map[string]Value{"b": Number(1), "c": Number(2)}),
	})
	patch := Object(map[string]Value{
		"a": Object(map[string]Value{"b": Number(9)}),
	})
	merged := Merge(dst, patch)
	a, _ := merged.Field("a")
	b, _ := a.Field("b")
	c, _ := a.Field("c")
	if n, _ := b.Number(); n != 9 {
		t.Fatalf("expected merged b=9, got %v", n)
	}
	if n, _ := c.Number(); n != 2 {
		t.Fatalf("expected untouched c=2, got %v", n)
	}
}

func TestMergeReplacesNonObject(t *testing.T) {
	dst := Object(map[string]Value{"a": Number(1)})
	patch := Number(5)
	merged := Merge(dst, patch)
	if n, ok := merged.Number(); !ok || n != 5 {
		t.Fatalf("expected scalar replace, got %+v", merged)
	}
}

func TestCloneIsolation(t *testing.T) {
	orig := Object(map[string]Value{"a": Array(Number(1), Number(2))})
	clone := orig.Clone()
	// mutate clone via WithField, original must be unaffected
	clone = clone.WithField("a", Number(42))
	origA, _ := orig.Field("a")
	if origA.Kind() != KindArray {
		t.Fatalf("original mutated by clone: %+v", origA)
	}
}

func TestFromAnyRoundTrip(t *testing.T) {
	raw := map[string]interface{}{
		"x": 1.0,
		"y": []interface{}{"a", "b"},
	}
	v := FromAny(raw)
	x, _ := v.Field("x")
	if n, _ := x.Number(); n != 1 {
		t.Fatalf("expected x=1, got %v", n)
	}
	back := v.ToAny().(map[string]interface{})
	if len(back) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(back))
	}
}
