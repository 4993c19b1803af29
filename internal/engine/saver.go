package engine

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// SaveState is the save coordinator's position in its state machine.
type SaveState int

const (
	// SaveIdle means no save is in flight; reload and detection logic
	// may run.
	SaveIdle SaveState = iota
	// SaveSaving means a save is writing to disk; reloads are refused
	// and concurrent save requests rejected.
	SaveSaving
	// SaveRecovering is the transient unwind state after a failed write,
	// passed through on the way back to SaveIdle.
	SaveRecovering
)

// String returns a human-readable representation of the state.
func (s SaveState) String() string {
	switch s {
	case SaveIdle:
		return "idle"
	case SaveSaving:
		return "saving"
	case SaveRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// ErrSaveInFlight is returned when a save is requested while another is
// already running. Callers queue or retry; writes are never interleaved.
var ErrSaveInFlight = errors.New("save already in flight")

// SaveCoordinator guards every disk write for one open board.
//
// It enforces three rules: only one save runs at a time; a failed write
// unwinds the state machine back to SaveIdle before the error propagates
// (a stuck Saving state would permanently disable saving and reloading,
// which is a correctness bug, not a UX bug); and document change events
// caused by our own write are distinguishable from independent external
// edits.
//
// Self-write detection uses two independent signals and treats either as
// sufficient: the explicit state flag, and the editor document version
// range recorded across the write. The two signals fail differently —
// the flag can clear before a late event is delivered, the version can
// be momentarily behind — so OR-ing them tolerates either one being
// wrong.
type SaveCoordinator struct {
	mu    sync.Mutex
	state SaveState

	// versionAtSaveEnd is the editor document version immediately after
	// our most recent write; change events at or below it are ours.
	// Starts at -1 so a version-0 event arriving before any save is
	// still recognized as an external edit.
	versionAtSaveEnd int64

	// recentlyReloaded holds keys of records that just adopted external
	// content; save-all skips them until the window expires so a stale
	// in-memory copy cannot clobber a just-arrived external version.
	recentlyReloaded map[string]time.Time
	reloadWindow     time.Duration

	// selfWrites remembers paths this coordinator wrote very recently so
	// the resulting filesystem events can be ignored.
	selfWrites map[string]time.Time

	logger *log.Logger
}

// NewSaveCoordinator creates a coordinator. reloadWindow bounds how long
// a just-reloaded include is protected from save-all.
func NewSaveCoordinator(reloadWindow time.Duration, logger *log.Logger) *SaveCoordinator {
	if reloadWindow <= 0 {
		reloadWindow = 2 * time.Second
	}
	return &SaveCoordinator{
		state:            SaveIdle,
		versionAtSaveEnd: -1,
		recentlyReloaded: make(map[string]time.Time),
		selfWrites:       make(map[string]time.Time),
		reloadWindow:     reloadWindow,
		logger:           ensureLogger(logger),
	}
}

// State returns the current state.
func (sc *SaveCoordinator) State() SaveState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// IsSelfWrite reports whether an editor document change event with the
// given version was caused by our own save. Either signal alone — save
// currently in flight, or version within the recorded save range — is
// sufficient proof.
func (sc *SaveCoordinator) IsSelfWrite(version int64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state == SaveSaving || version <= sc.versionAtSaveEnd
}

// IsOwnFileWrite reports whether a filesystem event for path traces back
// to a write this coordinator performed within the reload window.
func (sc *SaveCoordinator) IsOwnFileWrite(path string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	at, ok := sc.selfWrites[path]
	if !ok {
		return false
	}
	if time.Since(at) > sc.reloadWindow {
		delete(sc.selfWrites, path)
		return false
	}
	return true
}

// NoteReloaded records that a record just adopted external content.
// Save-all skips it until the window expires.
func (sc *SaveCoordinator) NoteReloaded(key string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.recentlyReloaded[key] = time.Now()
}

// recentlyReloadedLocked reports and prunes the recently-reloaded state
// for a key. Caller holds the lock.
func (sc *SaveCoordinator) recentlyReloadedLocked(key string) bool {
	at, ok := sc.recentlyReloaded[key]
	if !ok {
		return false
	}
	if time.Since(at) > sc.reloadWindow {
		delete(sc.recentlyReloaded, key)
		return false
	}
	return true
}

// begin transitions Idle → Saving, rejecting concurrent saves.
func (sc *SaveCoordinator) begin() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.state != SaveIdle {
		return fmt.Errorf("%w (state %s)", ErrSaveInFlight, sc.state)
	}
	sc.state = SaveSaving
	return nil
}

// finish transitions back to Idle, through Recovering when the save
// failed. Recording versionAtSaveEnd happens here, while still inside
// the Saving window, so the two self-write signals overlap.
func (sc *SaveCoordinator) finish(versionAtEnd int64, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if failed {
		sc.state = SaveRecovering
		sc.logger.Printf("Save failed, recovering coordinator state")
	}
	if versionAtEnd > sc.versionAtSaveEnd {
		sc.versionAtSaveEnd = versionAtEnd
	}
	sc.state = SaveIdle
}

// noteSelfWrite remembers a path we just wrote. Caller holds the lock.
func (sc *SaveCoordinator) noteSelfWriteLocked(path string) {
	sc.selfWrites[path] = time.Now()
}

// writeRecord writes a record's current content to its path and marks it
// saved.
func (sc *SaveCoordinator) writeRecord(rec *FileRecord) error {
	if err := os.WriteFile(rec.Path, []byte(rec.Current()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rec.Path, err)
	}
	sc.mu.Lock()
	sc.noteSelfWriteLocked(rec.Path)
	sc.mu.Unlock()
	rec.MarkSaved()
	return nil
}

// SavePrimary writes the primary document and every include holding
// unsaved changes, as one coordinated save.
//
// docVersion is the editor document version observed after the primary
// write is requested; change events at or below it are classified as our
// own. Includes whose relative path was reloaded from an external source
// within the reload window are skipped: their in-memory copy may be
// stale relative to the content that just arrived.
//
// On any write failure the coordinator unwinds to SaveIdle before the
// error is returned; a failed save never leaves the board unable to save
// or reload again.
func (sc *SaveCoordinator) SavePrimary(reg *Registry, docVersion int64) (err error) {
	if beginErr := sc.begin(); beginErr != nil {
		return beginErr
	}
	defer func() {
		sc.finish(docVersion, err != nil)
	}()

	primary := reg.Primary()
	if primary == nil {
		return fmt.Errorf("no primary record to save")
	}

	if writeErr := sc.writeRecord(primary); writeErr != nil {
		return writeErr
	}

	// A primary save carries its unsaved includes with it. Individual
	// include failures don't abort the batch; the first error is
	// reported after all writable includes are flushed.
	var firstIncludeErr error
	for _, rec := range reg.All() {
		if rec.Role == RolePrimary || !rec.HasUnsavedChanges() {
			continue
		}
		sc.mu.Lock()
		skip := sc.recentlyReloadedLocked(rec.Key())
		sc.mu.Unlock()
		if skip {
			sc.logger.Printf("Skipping save of %s: reloaded from external source moments ago", rec.RelPath)
			continue
		}
		if writeErr := sc.writeRecord(rec); writeErr != nil {
			sc.logger.Printf("Warning: failed to save include %s: %v", rec.RelPath, writeErr)
			if firstIncludeErr == nil {
				firstIncludeErr = writeErr
			}
		}
	}
	return firstIncludeErr
}

// SaveRecord writes a single record under coordination, outside a
// primary batch save.
func (sc *SaveCoordinator) SaveRecord(rec *FileRecord) (err error) {
	if beginErr := sc.begin(); beginErr != nil {
		return beginErr
	}
	defer func() {
		// A single-record save carries no editor version; -1 leaves the
		// recorded save range untouched.
		sc.finish(-1, err != nil)
	}()
	return sc.writeRecord(rec)
}
