package ui

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/charmbracelet/huh"

	"github.com/markboard/markboard/internal/engine"
)

// ConflictDialog asks the user to resolve a file conflict with a
// terminal form. It implements engine.Dialog.
//
// Without an attached terminal the dialog reports
// engine.ErrDialogUnavailable, which makes the resolver take the safest
// action instead of blocking a headless process on a prompt nobody can
// see.
type ConflictDialog struct {
	logger *log.Logger

	// interactive overrides TTY detection; nil means detect.
	interactive func() bool
}

// NewConflictDialog creates a terminal conflict dialog.
func NewConflictDialog(logger *log.Logger) *ConflictDialog {
	if logger == nil {
		logger = log.Default()
	}
	return &ConflictDialog{logger: logger}
}

// ShowConflict implements engine.Dialog.
func (d *ConflictDialog) ShowConflict(ctx context.Context, cc engine.ConflictContext) (engine.Choice, error) {
	isInteractive := IsInteractive
	if d.interactive != nil {
		isInteractive = d.interactive
	}
	if !isInteractive() {
		return engine.ChoiceCancelled, engine.ErrDialogUnavailable
	}

	title := fmt.Sprintf("%s changed on disk", cc.RelPath)
	description := describeConflict(cc)

	choice := engine.ChoiceBackupAndTakeTheirs
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[engine.Choice]().
				Title(title).
				Description(description).
				Options(
					huh.NewOption("Keep my version (overwrites disk on next save)", engine.ChoiceKeepMine),
					huh.NewOption("Take the disk version (discards my unsaved edit)", engine.ChoiceTakeTheirs),
					huh.NewOption("Back up my version, then take the disk version", engine.ChoiceBackupAndTakeTheirs),
				).
				Value(&choice),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			d.logger.Printf("Conflict dialog for %s dismissed", cc.RelPath)
			return engine.ChoiceCancelled, nil
		}
		return engine.ChoiceCancelled, fmt.Errorf("conflict dialog failed: %w", err)
	}
	return choice, nil
}

// describeConflict summarizes why this is a conflict and what is at
// stake.
func describeConflict(cc engine.ConflictContext) string {
	what := "An external program " + cc.Change.String() + " this file."
	switch {
	case cc.EditOpen && cc.DirtyInEditor:
		return what + " You have an edit open and unsaved editor changes."
	case cc.EditOpen:
		return what + " You have an edit open on it."
	case cc.DirtyInEditor:
		return what + " Your editor holds unsaved changes to it."
	case cc.UnsavedInModel:
		return what + " The board holds changes not yet written to disk."
	default:
		return what
	}
}
