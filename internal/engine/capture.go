package engine

import (
	"context"
	"log"
	"time"
)

// EditValueSource is the UI-layer collaborator that can report the live
// value of an open, uncommitted edit widget. CaptureEditValue returns
// the value (the empty string is a valid value — an edit that clears a
// field) and true, or false when the UI declined or could not answer.
type EditValueSource interface {
	CaptureEditValue(ctx context.Context, key string) (string, bool, error)
}

// CaptureOutcome reports what the baseline capture step achieved.
type CaptureOutcome int

const (
	// CaptureNotNeeded means no edit widget was open for the record.
	CaptureNotNeeded CaptureOutcome = iota
	// CaptureApplied means a live value (possibly empty) was absorbed
	// into the record's baseline.
	CaptureApplied
	// CaptureTimedOut means the UI did not answer within the bound. The
	// record must still be treated as in edit mode for classification:
	// a timeout is never evidence that no edit is in progress.
	CaptureTimedOut
)

// String returns a human-readable representation of the outcome.
func (c CaptureOutcome) String() string {
	switch c {
	case CaptureNotNeeded:
		return "not-needed"
	case CaptureApplied:
		return "applied"
	case CaptureTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// CaptureBaseline safely absorbs an in-progress UI edit into a record's
// baseline before classification.
//
// The live value is requested from the UI with a bounded timeout. A
// returned value — including the empty string — is applied to baseline
// only: disk is never written here, current and the visible structured
// model are never touched, so the user cannot see half-applied content
// mid-resolution. A timeout or unreachable UI leaves the record
// unmodified but still in edit mode.
func CaptureBaseline(ctx context.Context, src EditValueSource, rec *FileRecord, timeout time.Duration, logger *log.Logger) CaptureOutcome {
	logger = ensureLogger(logger)

	if !rec.InEditMode() {
		return CaptureNotNeeded
	}
	if src == nil {
		logger.Printf("No edit-value source for %s; treating open edit as unreconciled", rec.RelPath)
		return CaptureTimedOut
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, ok, err := src.CaptureEditValue(ctx, rec.Key())
	if err != nil || !ok {
		logger.Printf("Capture of live edit for %s did not answer in %v; keeping edit-mode protection", rec.RelPath, timeout)
		return CaptureTimedOut
	}

	rec.MarkCapturedEdit(value)
	logger.Printf("Captured live edit for %s (%d bytes) into baseline", rec.RelPath, len(value))
	return CaptureApplied
}
