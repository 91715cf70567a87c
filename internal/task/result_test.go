package task

import (
	"testing"
	"time"
)

func TestResultConstructors(t *testing.T) {
	t.Parallel()

	r := Success("gc", 10, 7, 4096, 2*time.Second)
	if !r.Success || r.Interrupted {
		t.Fatalf("Success: got success=%v interrupted=%v", r.Success, r.Interrupted)
	}
	if r.ItemsFound != 10 || r.ItemsCleaned != 7 || r.BytesFreed != 4096 {
		t.Fatalf("Success counts: %d/%d/%d", r.ItemsFound, r.ItemsCleaned, r.BytesFreed)
	}
	if r.Errors == nil || len(r.Errors) != 0 {
		t.Fatalf("Success errors: %v", r.Errors)
	}
	if r.ExecutedAt.IsZero() {
		t.Fatal("Success: ExecutedAt not stamped")
	}

	f := Failure("gc", map[string]string{"db": "locked"}, time.Second)
	if f.Success || f.Interrupted {
		t.Fatalf("Failure: got success=%v interrupted=%v", f.Success, f.Interrupted)
	}
	if f.Errors["db"] != "locked" {
		t.Fatalf("Failure errors: %v", f.Errors)
	}

	resume := time.Now().Add(5 * time.Minute)
	i := Interrupted("gc", 3, 2, 100, nil, resume, time.Second)
	if !i.Success || !i.Interrupted {
		t.Fatalf("Interrupted: got success=%v interrupted=%v", i.Success, i.Interrupted)
	}
	if !i.NextRun.Equal(resume) {
		t.Fatalf("Interrupted NextRun = %v, want %v", i.NextRun, resume)
	}
}

func TestResultWithDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	orig := Success("gc", 1, 1, 1, time.Second)
	orig = orig.AddError("a", "one")

	found := 99
	patched := orig.With(Patch{ItemsFound: &found, Errors: map[string]string{"b": "two"}})

	if orig.ItemsFound != 1 {
		t.Fatalf("receiver ItemsFound mutated: %d", orig.ItemsFound)
	}
	if _, ok := orig.Errors["b"]; ok {
		t.Fatal("receiver Errors mutated")
	}
	if patched.ItemsFound != 99 || patched.Errors["b"] != "two" {
		t.Fatalf("patch not applied: %+v", patched)
	}
	if _, ok := patched.Errors["a"]; ok {
		t.Fatal("non-nil Errors patch must replace the whole set")
	}
}

func TestResultAddCountsAndAddError(t *testing.T) {
	t.Parallel()

	orig := Success("gc", 1, 1, 10, 0)
	bumped := orig.AddCounts(2, 3, 5)
	if bumped.ItemsFound != 3 || bumped.ItemsCleaned != 4 || bumped.BytesFreed != 15 {
		t.Fatalf("AddCounts: %d/%d/%d", bumped.ItemsFound, bumped.ItemsCleaned, bumped.BytesFreed)
	}
	if orig.ItemsFound != 1 {
		t.Fatalf("AddCounts mutated receiver: %d", orig.ItemsFound)
	}

	withErr := orig.AddError("step", "boom")
	if !withErr.HasErrors() {
		t.Fatal("AddError: HasErrors = false")
	}
	if orig.HasErrors() {
		t.Fatal("AddError mutated receiver")
	}
}

func TestResultMapRoundTrip(t *testing.T) {
	t.Parallel()

	resume := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	r := Interrupted("gc", 8, 5, 2048, map[string]string{"x": "y"}, resume, 1500*time.Millisecond)

	got := FromMap(r.ToMap())
	if got.TaskID != "gc" || !got.Success || !got.Interrupted {
		t.Fatalf("round trip lost flags: %+v", got)
	}
	if got.ItemsFound != 8 || got.ItemsCleaned != 5 || got.BytesFreed != 2048 {
		t.Fatalf("round trip counts: %d/%d/%d", got.ItemsFound, got.ItemsCleaned, got.BytesFreed)
	}
	if !got.NextRun.Equal(resume) {
		t.Fatalf("NextRun = %v, want %v", got.NextRun, resume)
	}
	if got.Errors["x"] != "y" {
		t.Fatalf("Errors = %v", got.Errors)
	}
	if got.Elapsed != 1500*time.Millisecond {
		t.Fatalf("Elapsed = %v", got.Elapsed)
	}
}

func TestFromMapLegacyFields(t *testing.T) {
	t.Parallel()

	// Older records used "was_interrupted" and only tracked the cleaned count.
	got := FromMap(map[string]any{
		"task_id":         "gc",
		"success":         true,
		"items_cleaned":   float64(4), // JSON numbers decode as float64
		"was_interrupted": true,
	})
	if !got.Interrupted {
		t.Fatal("was_interrupted not honored")
	}
	if got.ItemsFound != 4 {
		t.Fatalf("items_found fallback = %d, want 4", got.ItemsFound)
	}

	// A present "interrupted" wins over the legacy name.
	got = FromMap(map[string]any{"interrupted": false, "was_interrupted": true})
	if got.Interrupted {
		t.Fatal("interrupted=false should win over was_interrupted")
	}
}

func TestFromMapTolerantDecoding(t *testing.T) {
	t.Parallel()

	got := FromMap(map[string]any{
		"errors":      map[string]any{"k": 42},
		"executed_at": "not-a-time",
		"bytes_freed": int64(7),
	})
	if got.Errors["k"] != "42" {
		t.Fatalf("errors coercion = %v", got.Errors)
	}
	if !got.ExecutedAt.IsZero() {
		t.Fatal("bad timestamp should be ignored")
	}
	if got.BytesFreed != 7 {
		t.Fatalf("bytes_freed = %d", got.BytesFreed)
	}

	empty := FromMap(nil)
	if empty.Errors == nil {
		t.Fatal("FromMap(nil) must return a usable Errors map")
	}
}
