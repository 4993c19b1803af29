package engine

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	return NewRegistry(root, testLogger(t)), root
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
}

// TestRegistry_GetOrCreate verifies lazy creation with disk hydration.
func TestRegistry_GetOrCreate(t *testing.T) {
	reg, root := newTestRegistry(t)
	writeTestFile(t, root, "col.md", "task A")

	rec, err := reg.GetOrCreate("col.md", RoleIncludeStructured)
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	if rec.Current() != "task A" {
		t.Errorf("hydrated content = %q, want %q", rec.Current(), "task A")
	}
	if rec.HasUnsavedChanges() {
		t.Error("freshly hydrated record should be clean")
	}
}

// TestRegistry_SpellingVariantsResolveToOneRecord verifies that a
// registry populated from N spellings of the same path holds exactly one
// entry.
func TestRegistry_SpellingVariantsResolveToOneRecord(t *testing.T) {
	reg, root := newTestRegistry(t)
	writeTestFile(t, root, "include-3.md", "content")

	variants := []string{
		"include-3.md",
		"./include-3.md",
		"  include-3.md ",
		"./include-3.MD",
	}

	var first *FileRecord
	for _, v := range variants {
		rec, err := reg.GetOrCreate(v, RoleIncludeStructured)
		if err != nil {
			t.Fatalf("GetOrCreate(%q) failed: %v", v, err)
		}
		if first == nil {
			first = rec
		} else if rec != first {
			t.Errorf("GetOrCreate(%q) returned a second record", v)
		}
	}

	if reg.Len() != 1 {
		t.Errorf("registry holds %d records, want 1", reg.Len())
	}

	for _, v := range variants {
		if reg.Get(v) != first {
			t.Errorf("Get(%q) did not resolve to the one record", v)
		}
	}
}

// TestRegistry_ConcurrentGetOrCreate verifies the in-flight creation
// marker: concurrent requests for the same new path produce one record.
func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	reg, root := newTestRegistry(t)
	writeTestFile(t, root, "shared.md", "content")

	const workers = 16
	records := make([]*FileRecord, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			rec, err := reg.GetOrCreate("shared.md", RoleIncludeStructured)
			if err != nil {
				t.Errorf("worker %d: GetOrCreate failed: %v", i, err)
				return
			}
			records[i] = rec
		}(i)
	}
	wg.Wait()

	if reg.Len() != 1 {
		t.Fatalf("registry holds %d records, want 1", reg.Len())
	}
	for i := 1; i < workers; i++ {
		if records[i] != records[0] {
			t.Fatalf("worker %d got a different record instance", i)
		}
	}
}

// TestRegistry_HydrationFailureIsNotFatal verifies a missing file still
// yields a usable empty record, retried lazily once the file appears.
func TestRegistry_HydrationFailureIsNotFatal(t *testing.T) {
	reg, root := newTestRegistry(t)

	rec, err := reg.GetOrCreate("missing.md", RoleIncludeStructured)
	if err != nil {
		t.Fatalf("GetOrCreate() should not fail on unreadable file: %v", err)
	}
	if rec.Hydrated() {
		t.Error("record should not report hydrated after a failed read")
	}
	if rec.Current() != "" {
		t.Errorf("unhydrated record content = %q, want empty", rec.Current())
	}

	// The file shows up later; next access retries.
	writeTestFile(t, root, "missing.md", "late content")
	rec2 := reg.Get("missing.md")
	if rec2 != rec {
		t.Fatal("retry created a second record")
	}
	if !rec2.Hydrated() {
		t.Error("record should hydrate on retry")
	}
	if rec2.Current() != "late content" {
		t.Errorf("retried content = %q, want %q", rec2.Current(), "late content")
	}
}

// TestRegistry_RefusesBackupPaths verifies backup siblings never become
// tracked includes.
func TestRegistry_RefusesBackupPaths(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.GetOrCreate(".col.md.mbd-backup-conflict-x", RoleIncludeStructured)
	if err == nil {
		t.Error("GetOrCreate should refuse backup paths")
	}
}

// TestRegistry_RetireBacksUpUnsaved verifies the unsaved-removal
// protocol: retiring a dirty record leaves its content in a backup.
func TestRegistry_RetireBacksUpUnsaved(t *testing.T) {
	reg, root := newTestRegistry(t)
	writeTestFile(t, root, "col.md", "original")

	rec, err := reg.GetOrCreate("col.md", RoleIncludeStructured)
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	rec.MarkFrontendEdit("unsaved edit")

	backups := NewBackupWriter(testLogger(t))
	if err := reg.Retire("col.md", backups); err != nil {
		t.Fatalf("Retire() failed: %v", err)
	}
	if reg.Get("col.md") != nil {
		t.Error("record still present after retire")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var backupContent string
	for _, entry := range entries {
		if IsBackupPath(entry.Name()) {
			data, err := os.ReadFile(filepath.Join(root, entry.Name()))
			if err != nil {
				t.Fatalf("Failed to read backup: %v", err)
			}
			backupContent = string(data)
		}
	}
	if !strings.Contains(backupContent, "unsaved edit") {
		t.Errorf("backup content = %q, want the unsaved edit", backupContent)
	}
}

// TestRegistry_RetireCleanRecord verifies clean records retire without
// leaving a backup behind.
func TestRegistry_RetireCleanRecord(t *testing.T) {
	reg, root := newTestRegistry(t)
	writeTestFile(t, root, "col.md", "content")

	if _, err := reg.GetOrCreate("col.md", RoleIncludeStructured); err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	if err := reg.Retire("col.md", NewBackupWriter(testLogger(t))); err != nil {
		t.Fatalf("Retire() failed: %v", err)
	}

	entries, _ := os.ReadDir(root)
	for _, entry := range entries {
		if IsBackupPath(entry.Name()) {
			t.Errorf("unexpected backup %s for clean record", entry.Name())
		}
	}
}
