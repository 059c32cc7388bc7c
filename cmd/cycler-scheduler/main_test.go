package main

import (
	"bytes"
	"io"
	"os"
	"testing"
)

func TestBuildPipelineRejectsUnknownTarget(t *testing.T) {
	if _, _, err := buildPipeline("nonexistent"); err == nil {
		t.Fatal("expected an error for an unregistered pipeline target")
	}
}

func TestBuildPipelineResolvesDemo(t *testing.T) {
	nodes, kinds, err := buildPipeline("demo")
	if err != nil {
		t.Fatalf("buildPipeline(\"demo\"): %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 demo nodes, got %d", len(nodes))
	}
	if len(kinds) != 2 {
		t.Fatalf("expected an InstanceKind for every cycler, got %d", len(kinds))
	}
}

func TestRunReturnsArgErrorOnMissingTarget(t *testing.T) {
	if code := run(nil, fakeEnv(nil)); code != exitArgErr {
		t.Fatalf("expected exitArgErr for a missing positional target, got %d", code)
	}
}

func TestRunReturnsArgErrorOnUnknownTarget(t *testing.T) {
	if code := run([]string{"does-not-exist"}, fakeEnv(nil)); code != exitArgErr {
		t.Fatalf("expected exitArgErr for an unknown pipeline target, got %d", code)
	}
}

func TestRunDumpPlanExitsCleanlyWithoutStartingTheScheduler(t *testing.T) {
	stdout := captureStdout(t, func() {
		if code := run([]string{"--dump-plan", "demo"}, fakeEnv(nil)); code != exitOK {
			t.Fatalf("expected exitOK for --dump-plan, got %d", code)
		}
	})
	if !bytes.Contains(stdout, []byte("Clock.main")) || !bytes.Contains(stdout, []byte("Control.main")) {
		t.Fatalf("expected --dump-plan to print both demo cyclers, got %q", stdout)
	}
}

func fakeEnv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func captureStdout(t *testing.T, fn func()) []byte {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read captured stdout: %v", err)
	}
	return out
}
