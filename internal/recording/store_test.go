package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndReplayBeforeOrEqual(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.rec")

	s, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Unix(1_700_000_000, 0)
	s.Append(base, []byte("frame-0"))
	s.Append(base.Add(1*time.Second), []byte("frame-1"))
	s.Append(base.Add(2*time.Second), []byte("frame-2"))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err := BuildIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 3 {
		t.Fatalf("expected 3 frames indexed, got %d", idx.Len())
	}

	frame, ok, err := idx.BeforeOrEqual(base.Add(1500 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(frame.Payload) != "frame-1" {
		t.Fatalf("expected frame-1, got %q ok=%v", frame.Payload, ok)
	}

	_, ok, err = idx.BeforeOrEqual(base.Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no frame before the first recorded timestamp")
	}
}

func TestBuildIndexRejectsCorruptFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.rec")
	s, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Append(time.Unix(0, 0), []byte("ok"))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Corrupt the magic marker of the single frame.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := BuildIndex(path); err == nil {
		t.Fatal("expected corrupt magic marker to be rejected")
	}
}
