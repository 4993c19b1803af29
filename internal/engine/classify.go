package engine

import "strings"

// Outcome is the classifier's verdict on an observed disk change.
type Outcome int

const (
	// OutcomeNoChange means disk still matches baseline.
	OutcomeNoChange Outcome = iota
	// OutcomeSafeExternalUpdate means disk changed and nothing in memory
	// can be lost by adopting it: auto-reload without a dialog.
	OutcomeSafeExternalUpdate
	// OutcomeStaleNoop means disk differs from baseline but is identical
	// to current: no real external change for the in-memory model, the
	// baseline is realigned silently.
	OutcomeStaleNoop
	// OutcomeConflict means disk changed while the in-memory side holds
	// unreconciled user intent; resolution requires the user.
	OutcomeConflict
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoChange:
		return "no-change"
	case OutcomeSafeExternalUpdate:
		return "safe-external-update"
	case OutcomeStaleNoop:
		return "stale-noop"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ClassifyInput is everything the classifier is allowed to look at. It is
// a value type so classification is a pure function of its input.
type ClassifyInput struct {
	Baseline    string
	Current     string
	DiskContent string

	HasUnsavedChanges bool
	InEditMode        bool

	Role Role

	// StateKnown is false when the record's state could not be
	// established (failed hydration, missing baseline). Unknown state is
	// classified conservatively: a false conflict prompts the user, a
	// false non-conflict loses data.
	StateKnown bool
}

// ClassifyRecord builds the classifier input from a record and the
// freshly-read disk content.
func ClassifyRecord(r *FileRecord, diskContent string) ClassifyInput {
	return ClassifyInput{
		Baseline:          r.Baseline(),
		Current:           r.Current(),
		DiskContent:       diskContent,
		HasUnsavedChanges: r.HasUnsavedChanges(),
		InEditMode:        r.InEditMode(),
		Role:              r.Role,
		StateKnown:        r.Hydrated(),
	}
}

// Classify decides what an observed disk state means for a record.
//
// The decision is the core correctness rule of the engine:
//
//	conflict == externalChange && (hasUnsavedChanges || inEditMode)
//
// An open, uncommitted edit blocks silent auto-reload even though nothing
// has been committed yet — a silent reload would either discard the edit
// or interleave it with the incoming content. RoleIncludePlain records
// are exempt: they have no internal edit path, so an external change is
// always safe to adopt.
func Classify(in ClassifyInput) Outcome {
	eq := func(a, b string) bool {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}

	if eq(in.DiskContent, in.Baseline) {
		return OutcomeNoChange
	}

	if in.Role == RoleIncludePlain {
		return OutcomeSafeExternalUpdate
	}

	if !in.StateKnown {
		return OutcomeConflict
	}

	// Disk already holds exactly what we hold: nothing can be lost by
	// realigning baseline, even if an edit is open.
	if eq(in.DiskContent, in.Current) {
		return OutcomeStaleNoop
	}

	if in.HasUnsavedChanges || in.InEditMode {
		return OutcomeConflict
	}

	return OutcomeSafeExternalUpdate
}
