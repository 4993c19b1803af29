package engine

import (
	"context"
	"testing"
	"time"
)

// stubEditSource answers capture requests from a canned table, or blocks
// past the deadline when asked to simulate an irresponsive UI.
type stubEditSource struct {
	value string
	ok    bool
	block bool
	calls int
}

func (s *stubEditSource) CaptureEditValue(ctx context.Context, key string) (string, bool, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return "", false, ctx.Err()
	}
	return s.value, s.ok, nil
}

// TestCaptureBaseline_AppliesValue verifies a returned live value lands
// in baseline only.
func TestCaptureBaseline_AppliesValue(t *testing.T) {
	rec := NewFileRecord("/tmp/a.md", "a.md", RoleIncludeLeafContent, "committed")
	rec.SetEditMode(true)

	src := &stubEditSource{value: "typed but uncommitted", ok: true}
	outcome := CaptureBaseline(context.Background(), src, rec, time.Second, testLogger(t))

	if outcome != CaptureApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}
	if rec.Baseline() != "typed but uncommitted" {
		t.Errorf("baseline = %q, want captured value", rec.Baseline())
	}
	if rec.Current() != "committed" {
		t.Errorf("current = %q, capture must not touch it", rec.Current())
	}
	if !rec.HasUnsavedChanges() {
		t.Error("captured edit must mark the record unsaved")
	}
}

// TestCaptureBaseline_EmptyValueIsAValue verifies an edit that cleared
// the field captures as the empty string, distinct from no response.
func TestCaptureBaseline_EmptyValueIsAValue(t *testing.T) {
	rec := NewFileRecord("/tmp/a.md", "a.md", RoleIncludeLeafContent, "committed")
	rec.SetEditMode(true)

	src := &stubEditSource{value: "", ok: true}
	outcome := CaptureBaseline(context.Background(), src, rec, time.Second, testLogger(t))

	if outcome != CaptureApplied {
		t.Fatalf("outcome = %s, want applied for empty value", outcome)
	}
	if rec.Baseline() != "" {
		t.Errorf("baseline = %q, want empty capture", rec.Baseline())
	}
	if !rec.HasUnsavedChanges() {
		t.Error("empty capture must still mark the record unsaved")
	}
}

// TestCaptureBaseline_Timeout verifies an irresponsive UI leaves the
// record untouched but still protected by edit mode.
func TestCaptureBaseline_Timeout(t *testing.T) {
	rec := NewFileRecord("/tmp/a.md", "a.md", RoleIncludeLeafContent, "committed")
	rec.SetEditMode(true)

	src := &stubEditSource{block: true}
	start := time.Now()
	outcome := CaptureBaseline(context.Background(), src, rec, 20*time.Millisecond, testLogger(t))
	elapsed := time.Since(start)

	if outcome != CaptureTimedOut {
		t.Fatalf("outcome = %s, want timed-out", outcome)
	}
	if elapsed > time.Second {
		t.Errorf("capture did not respect its bound: took %v", elapsed)
	}
	if rec.Baseline() != "committed" {
		t.Errorf("timeout mutated baseline to %q", rec.Baseline())
	}
	if !rec.InEditMode() {
		t.Error("timeout must not clear edit mode — it is never 'no edit in progress'")
	}
}

// TestCaptureBaseline_NotNeeded verifies records without an open widget
// skip capture entirely.
func TestCaptureBaseline_NotNeeded(t *testing.T) {
	rec := NewFileRecord("/tmp/a.md", "a.md", RoleIncludeLeafContent, "committed")

	src := &stubEditSource{value: "x", ok: true}
	if outcome := CaptureBaseline(context.Background(), src, rec, time.Second, testLogger(t)); outcome != CaptureNotNeeded {
		t.Fatalf("outcome = %s, want not-needed", outcome)
	}
	if src.calls != 0 {
		t.Error("UI consulted for a record with no open edit")
	}
}

// TestCaptureBaseline_NilSource verifies a missing UI collaborator is
// treated like a timeout, never like a clean record.
func TestCaptureBaseline_NilSource(t *testing.T) {
	rec := NewFileRecord("/tmp/a.md", "a.md", RoleIncludeLeafContent, "committed")
	rec.SetEditMode(true)

	if outcome := CaptureBaseline(context.Background(), nil, rec, time.Second, testLogger(t)); outcome != CaptureTimedOut {
		t.Fatalf("outcome = %s, want timed-out for nil source", outcome)
	}
}
