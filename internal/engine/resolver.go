package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// ChangeKind describes what the filesystem collaborator observed.
type ChangeKind int

const (
	// ChangeCreated indicates the file appeared.
	ChangeCreated ChangeKind = iota
	// ChangeModified indicates the file content changed.
	ChangeModified
	// ChangeDeleted indicates the file disappeared.
	ChangeDeleted
)

// String returns a human-readable representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ConflictContext describes one detected conflict for the dialog
// collaborator. It is transient: built, shown, discarded.
type ConflictContext struct {
	// ID correlates dialog round-trips in logs and over the UI channel.
	ID string
	// Path and RelPath identify the conflicted file.
	Path    string
	RelPath string
	Role    Role

	// UnsavedInModel is true when the structured model holds committed
	// but unsaved content for this record.
	UnsavedInModel bool
	// EditOpen is true when a UI edit widget was open when the external
	// change landed (including the capture-timeout case).
	EditOpen bool
	// DirtyInEditor is true when the text editor holds uncommitted
	// keystrokes for this path.
	DirtyInEditor bool

	// Change is the nature of the external change.
	Change ChangeKind
}

// Choice is the user's decision for one conflict.
type Choice int

const (
	// ChoiceKeepMine keeps baseline and current; disk is untouched and
	// will be overwritten on the next save.
	ChoiceKeepMine Choice = iota
	// ChoiceTakeTheirs adopts disk content, discarding the unsaved edit.
	ChoiceTakeTheirs
	// ChoiceBackupAndTakeTheirs writes the unsaved content to a backup
	// sibling, then adopts disk content.
	ChoiceBackupAndTakeTheirs
	// ChoiceCancelled means the user dismissed the dialog without
	// deciding.
	ChoiceCancelled
)

// String returns a human-readable representation of the choice.
func (c Choice) String() string {
	switch c {
	case ChoiceKeepMine:
		return "keep-mine"
	case ChoiceTakeTheirs:
		return "take-theirs"
	case ChoiceBackupAndTakeTheirs:
		return "backup-and-take-theirs"
	case ChoiceCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Dialog is the external collaborator that puts a conflict in front of
// the user. Implementations live outside the engine (terminal form,
// UI-channel prompt).
type Dialog interface {
	ShowConflict(ctx context.Context, cc ConflictContext) (Choice, error)
}

// ErrDialogUnavailable is returned by Dialog implementations that cannot
// reach the user at all (no terminal, UI disconnected). The resolver
// treats it like any dialog failure: safest action.
var ErrDialogUnavailable = errors.New("conflict dialog unavailable")

// Resolution is what the resolver decided and did.
type Resolution struct {
	Choice Choice
	// BackupPath is non-empty when content was preserved to a backup
	// sibling as part of the resolution.
	BackupPath string
	// Fallback is true when the dialog could not be consulted and the
	// safest action was taken instead of a user choice.
	Fallback bool
}

// Resolver orchestrates the human-in-the-loop protocol for conflicts.
type Resolver struct {
	dialog  Dialog
	backups *BackupWriter
	logger  *log.Logger
}

// NewResolver creates a resolver. dialog may be nil for headless use;
// every conflict then takes the safest action.
func NewResolver(dialog Dialog, backups *BackupWriter, logger *log.Logger) *Resolver {
	return &Resolver{dialog: dialog, backups: backups, logger: ensureLogger(logger)}
}

// BuildContext assembles the ConflictContext for a record.
func BuildContext(rec *FileRecord, change ChangeKind) ConflictContext {
	return ConflictContext{
		ID:             uuid.NewString(),
		Path:           rec.Path,
		RelPath:        rec.RelPath,
		Role:           rec.Role,
		UnsavedInModel: rec.HasUnsavedChanges(),
		EditOpen:       rec.InEditMode(),
		DirtyInEditor:  rec.DirtyInEditor(),
		Change:         change,
	}
}

// Resolve runs the resolution protocol for one conflict and applies the
// outcome to the record.
//
// If the dialog collaborator is unreachable, raises, or the user cancels,
// the engine defaults to the safest action: keep-mine, with the incoming
// disk content preserved to a backup sibling so declining it loses
// nothing. A silent overwrite of the unsaved edit is never an option.
func (rv *Resolver) Resolve(ctx context.Context, rec *FileRecord, diskContent string, cc ConflictContext) (Resolution, error) {
	choice := ChoiceCancelled
	var dialogErr error

	if rv.dialog != nil {
		choice, dialogErr = rv.dialog.ShowConflict(ctx, cc)
	} else {
		dialogErr = ErrDialogUnavailable
	}

	if dialogErr != nil || choice == ChoiceCancelled {
		if dialogErr != nil {
			rv.logger.Printf("Conflict dialog failed for %s, keeping local content: %v", rec.RelPath, dialogErr)
		}
		return rv.fallbackKeepMine(rec, diskContent)
	}

	switch choice {
	case ChoiceKeepMine:
		rv.logger.Printf("Conflict on %s resolved: keep-mine", rec.RelPath)
		return Resolution{Choice: ChoiceKeepMine}, nil

	case ChoiceTakeTheirs:
		rec.MarkExternalChange(diskContent)
		rv.logger.Printf("Conflict on %s resolved: take-theirs", rec.RelPath)
		return Resolution{Choice: ChoiceTakeTheirs}, nil

	case ChoiceBackupAndTakeTheirs:
		backupPath, err := rv.backups.CreateBackup(rec.Path, rv.unsavedContent(rec), BackupOptions{
			Label:       "conflict",
			ForceCreate: true,
		})
		if err != nil {
			// Backup failed: adopting disk now would destroy the edit.
			// Keep the local side instead and report the failure.
			return Resolution{Choice: ChoiceKeepMine, Fallback: true},
				fmt.Errorf("backup before take-theirs failed, keeping local content: %w", err)
		}
		rec.MarkExternalChange(diskContent)
		rv.logger.Printf("Conflict on %s resolved: backup-and-take-theirs (%s)", rec.RelPath, backupPath)
		return Resolution{Choice: ChoiceBackupAndTakeTheirs, BackupPath: backupPath}, nil

	default:
		return rv.fallbackKeepMine(rec, diskContent)
	}
}

// fallbackKeepMine keeps the local side and preserves the declined disk
// content to a backup so neither version is lost.
func (rv *Resolver) fallbackKeepMine(rec *FileRecord, diskContent string) (Resolution, error) {
	backupPath, err := rv.backups.CreateBackup(rec.Path, diskContent, BackupOptions{
		Label:       "external",
		ForceCreate: true,
	})
	if err != nil {
		rv.logger.Printf("Warning: failed to back up external content for %s: %v", rec.RelPath, err)
	}
	return Resolution{Choice: ChoiceKeepMine, BackupPath: backupPath, Fallback: true}, nil
}

// unsavedContent returns the side of the record that holds the user's
// unreconciled intent: the captured edit value when a capture is
// pending, the live content otherwise.
func (rv *Resolver) unsavedContent(rec *FileRecord) string {
	if rec.capturePending {
		return rec.Baseline()
	}
	return rec.Current()
}
