package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// stubDialog returns a scripted choice, or fails.
type stubDialog struct {
	choice Choice
	err    error
	shown  []ConflictContext
}

func (d *stubDialog) ShowConflict(ctx context.Context, cc ConflictContext) (Choice, error) {
	d.shown = append(d.shown, cc)
	return d.choice, d.err
}

func newConflictedRecord(t *testing.T) (*FileRecord, string) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "col.md")
	rec := NewFileRecord(path, "col.md", RoleIncludeStructured, "baseline content")
	rec.MarkFrontendEdit("my unsaved edit")
	return rec, root
}

func backupsIn(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var out []string
	for _, e := range entries {
		if IsBackupPath(e.Name()) {
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	return out
}

// TestResolver_KeepMine verifies keep-mine leaves both sides alone.
func TestResolver_KeepMine(t *testing.T) {
	rec, root := newConflictedRecord(t)
	dialog := &stubDialog{choice: ChoiceKeepMine}
	rv := NewResolver(dialog, NewBackupWriter(testLogger(t)), testLogger(t))

	res, err := rv.Resolve(context.Background(), rec, "external content", BuildContext(rec, ChangeModified))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if res.Choice != ChoiceKeepMine || res.Fallback {
		t.Errorf("resolution = %+v, want clean keep-mine", res)
	}
	if rec.Current() != "my unsaved edit" {
		t.Errorf("keep-mine mutated current: %q", rec.Current())
	}
	if len(backupsIn(t, root)) != 0 {
		t.Error("keep-mine by explicit choice should not create a backup")
	}
}

// TestResolver_TakeTheirs verifies take-theirs adopts disk content.
func TestResolver_TakeTheirs(t *testing.T) {
	rec, _ := newConflictedRecord(t)
	dialog := &stubDialog{choice: ChoiceTakeTheirs}
	rv := NewResolver(dialog, NewBackupWriter(testLogger(t)), testLogger(t))

	if _, err := rv.Resolve(context.Background(), rec, "external content", BuildContext(rec, ChangeModified)); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if rec.Current() != "external content" || rec.Baseline() != "external content" {
		t.Errorf("take-theirs did not adopt disk content: %q / %q", rec.Current(), rec.Baseline())
	}
	if rec.HasUnsavedChanges() {
		t.Error("record should be clean after take-theirs")
	}
}

// TestResolver_BackupAndTakeTheirs verifies the unsaved edit survives in
// a backup while disk content wins the live model.
func TestResolver_BackupAndTakeTheirs(t *testing.T) {
	rec, root := newConflictedRecord(t)
	dialog := &stubDialog{choice: ChoiceBackupAndTakeTheirs}
	rv := NewResolver(dialog, NewBackupWriter(testLogger(t)), testLogger(t))

	res, err := rv.Resolve(context.Background(), rec, "external content", BuildContext(rec, ChangeModified))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if res.BackupPath == "" {
		t.Fatal("no backup path in resolution")
	}
	data, err := os.ReadFile(res.BackupPath)
	if err != nil {
		t.Fatalf("Failed to read backup: %v", err)
	}
	if string(data) != "my unsaved edit" {
		t.Errorf("backup = %q, want the unsaved edit", data)
	}
	if rec.Current() != "external content" {
		t.Errorf("live model = %q, want external content", rec.Current())
	}
	if len(backupsIn(t, root)) != 1 {
		t.Errorf("want exactly one backup, got %d", len(backupsIn(t, root)))
	}
}

// TestResolver_BackupOfCapturedEdit verifies the backup preserves the
// captured edit value when the conflict arrived mid-edit.
func TestResolver_BackupOfCapturedEdit(t *testing.T) {
	root := t.TempDir()
	rec := NewFileRecord(filepath.Join(root, "col.md"), "col.md", RoleIncludeLeafContent, "committed")
	rec.SetEditMode(true)
	rec.MarkCapturedEdit("half typed edit")

	dialog := &stubDialog{choice: ChoiceBackupAndTakeTheirs}
	rv := NewResolver(dialog, NewBackupWriter(testLogger(t)), testLogger(t))

	res, err := rv.Resolve(context.Background(), rec, "external content", BuildContext(rec, ChangeModified))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	data, _ := os.ReadFile(res.BackupPath)
	if string(data) != "half typed edit" {
		t.Errorf("backup = %q, want the captured edit value", data)
	}
}

// TestResolver_DialogFailureTakesSafestPath verifies a broken dialog
// defaults to keep-mine with the declined disk content preserved.
func TestResolver_DialogFailureTakesSafestPath(t *testing.T) {
	rec, root := newConflictedRecord(t)
	dialog := &stubDialog{err: errors.New("dialog channel closed")}
	rv := NewResolver(dialog, NewBackupWriter(testLogger(t)), testLogger(t))

	res, err := rv.Resolve(context.Background(), rec, "external content", BuildContext(rec, ChangeModified))
	if err != nil {
		t.Fatalf("Resolve() should absorb dialog failure: %v", err)
	}
	if res.Choice != ChoiceKeepMine || !res.Fallback {
		t.Errorf("resolution = %+v, want fallback keep-mine", res)
	}
	if rec.Current() != "my unsaved edit" {
		t.Error("fallback must keep the unsaved edit")
	}

	backups := backupsIn(t, root)
	if len(backups) != 1 {
		t.Fatalf("want one backup of the external content, got %d", len(backups))
	}
	data, _ := os.ReadFile(backups[0])
	if string(data) != "external content" {
		t.Errorf("backup = %q, want the declined external content", data)
	}
}

// TestResolver_NilDialog verifies headless resolution takes the same
// safest path.
func TestResolver_NilDialog(t *testing.T) {
	rec, _ := newConflictedRecord(t)
	rv := NewResolver(nil, NewBackupWriter(testLogger(t)), testLogger(t))

	res, err := rv.Resolve(context.Background(), rec, "external content", BuildContext(rec, ChangeModified))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if res.Choice != ChoiceKeepMine || !res.Fallback {
		t.Errorf("resolution = %+v, want fallback keep-mine", res)
	}
}

// TestResolver_CancelledDialog verifies cancelling is treated like an
// unanswered dialog, not like take-theirs.
func TestResolver_CancelledDialog(t *testing.T) {
	rec, _ := newConflictedRecord(t)
	dialog := &stubDialog{choice: ChoiceCancelled}
	rv := NewResolver(dialog, NewBackupWriter(testLogger(t)), testLogger(t))

	res, err := rv.Resolve(context.Background(), rec, "external content", BuildContext(rec, ChangeModified))
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if res.Choice != ChoiceKeepMine || !res.Fallback {
		t.Errorf("resolution = %+v, want fallback keep-mine", res)
	}
	if rec.Current() != "my unsaved edit" {
		t.Error("cancel must keep the unsaved edit")
	}
}

// TestBuildContext verifies the conflict description reflects record
// state.
func TestBuildContext(t *testing.T) {
	rec, _ := newConflictedRecord(t)
	rec.SetEditMode(true)
	rec.SetDirtyInEditor(true)

	cc := BuildContext(rec, ChangeDeleted)
	if cc.ID == "" {
		t.Error("context should carry an ID")
	}
	if !cc.UnsavedInModel || !cc.EditOpen || !cc.DirtyInEditor {
		t.Errorf("context flags = %+v, want all set", cc)
	}
	if cc.Change != ChangeDeleted {
		t.Errorf("change = %s, want deleted", cc.Change)
	}
}
