package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// IncludeRef is one include directive discovered in tracked content.
type IncludeRef struct {
	RelPath string
	Role    Role
}

// IncludeScanner discovers include references in document content. The
// board package provides the markdown implementation; the engine only
// needs the references.
type IncludeScanner interface {
	Scan(content string) ([]IncludeRef, error)
}

// Config holds configuration for the engine.
type Config struct {
	// CaptureTimeout bounds the request to the UI for a live edit value.
	CaptureTimeout time.Duration

	// RecentReloadWindow is how long a just-reloaded include is
	// protected from being clobbered by save-all.
	RecentReloadWindow time.Duration

	// EventBuffer bounds how many notifications may queue while one is
	// being handled.
	EventBuffer int

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CaptureTimeout:     500 * time.Millisecond,
		RecentReloadWindow: 2 * time.Second,
		EventBuffer:        128,
		Logger:             log.New(os.Stderr, "[mbd] ", log.LstdFlags),
	}
}

// Engine ties the registry, classifier, resolver, save coordinator and
// event bus together for one open board.
//
// All Notify* methods are safe to call from any goroutine; they publish
// to the bus and the single consumer does the work.
type Engine struct {
	primaryPath string
	reg         *Registry
	saver       *SaveCoordinator
	resolver    *Resolver
	backups     *BackupWriter
	bus         *EventBus
	scanner     IncludeScanner
	editSource  EditValueSource
	config      *Config

	reloadSeq  atomic.Int64
	docVersion atomic.Int64

	// dirOrigin maps each symlink-resolved watch directory back to the
	// directory spelling records use. The watcher sees resolved paths;
	// registry identity is built on the original ones.
	dirsMu    sync.RWMutex
	dirOrigin map[string]string

	// onIncludesChanged is told the set of directories to watch whenever
	// include discovery changes it.
	onIncludesChanged func(dirs []string)
	// onBoardUpdated is told when a record's live content changed
	// without the UI asking (reload, conflict resolution).
	onBoardUpdated func(relPath string)

	logger *log.Logger
}

// New creates an engine for the board document at primaryPath.
//
// dialog and editSource may be nil for headless operation: conflicts
// then take the safest action and open edits are treated as
// unreconcilable (never silently dropped). scanner must not be nil.
func New(primaryPath string, scanner IncludeScanner, dialog Dialog, editSource EditValueSource, config *Config) (*Engine, error) {
	if primaryPath == "" {
		return nil, fmt.Errorf("primaryPath cannot be empty")
	}
	if scanner == nil {
		return nil, fmt.Errorf("scanner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	logger := ensureLogger(config.Logger)

	abs, err := filepath.Abs(primaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", primaryPath, err)
	}

	backups := NewBackupWriter(logger)
	e := &Engine{
		primaryPath: abs,
		dirOrigin:   make(map[string]string),
		reg:         NewRegistry(filepath.Dir(abs), logger),
		saver:       NewSaveCoordinator(config.RecentReloadWindow, logger),
		resolver:    NewResolver(dialog, backups, logger),
		backups:     backups,
		scanner:     scanner,
		editSource:  editSource,
		config:      config,
		logger:      logger,
	}
	e.bus = NewEventBus(e.handleEvent, config.EventBuffer, logger)
	return e, nil
}

// Registry exposes the tracked records (read-side use: status output, UI
// snapshots).
func (e *Engine) Registry() *Registry { return e.reg }

// SaveState returns the save coordinator's current state.
func (e *Engine) SaveState() SaveState { return e.saver.State() }

// SetIncludesChangedHook registers the watcher-reconfiguration callback.
// Must be called before Start.
func (e *Engine) SetIncludesChangedHook(fn func(dirs []string)) { e.onIncludesChanged = fn }

// SetBoardUpdatedHook registers the UI push callback. Must be called
// before Start.
func (e *Engine) SetBoardUpdatedHook(fn func(relPath string)) { e.onBoardUpdated = fn }

// Start loads the primary document, discovers its includes and begins
// consuming events.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.track(); err != nil {
		return err
	}
	if err := e.bus.Start(ctx); err != nil {
		return err
	}
	e.logger.Printf("Engine started for %s (%d records)", e.primaryPath, e.reg.Len())
	return nil
}

// Stop shuts down event consumption. Pending queued events are dropped;
// use Shutdown for the end-of-session unsaved-content contract.
func (e *Engine) Stop() {
	e.bus.Stop()
}

// track creates the primary record and runs initial include discovery.
func (e *Engine) track() error {
	rel := filepath.Base(e.primaryPath)
	primary, err := e.reg.GetOrCreate(rel, RolePrimary)
	if err != nil {
		return fmt.Errorf("failed to track primary document: %w", err)
	}
	if !primary.Hydrated() {
		return fmt.Errorf("failed to read primary document %s", e.primaryPath)
	}
	e.syncIncludes(primary.Current())
	return nil
}

// --- notification intake -------------------------------------------------

// NotifyFileChanged publishes a filesystem-watch event. path may be
// absolute (as delivered by the watcher) or relative to the board root.
func (e *Engine) NotifyFileChanged(path string, kind ChangeKind) {
	e.bus.Publish(Event{Kind: EventFileChanged, Path: e.toRel(path), Change: kind})
}

// NotifyEditorSaved publishes an editor save of the primary document.
func (e *Engine) NotifyEditorSaved(version int64) {
	e.bus.Publish(Event{Kind: EventEditorSaved, Version: version})
}

// NotifyEditApplied publishes a committed structured-UI edit.
func (e *Engine) NotifyEditApplied(relPath, content string) {
	e.bus.Publish(Event{Kind: EventEditApplied, Path: relPath, Content: content})
}

// NotifyEditingStarted brackets the opening of a UI edit widget.
func (e *Engine) NotifyEditingStarted(relPath string) {
	e.bus.Publish(Event{Kind: EventEditingStarted, Path: relPath})
}

// NotifyEditingStopped brackets the normal close of a UI edit widget.
func (e *Engine) NotifyEditingStopped(relPath string) {
	e.bus.Publish(Event{Kind: EventEditingStopped, Path: relPath})
}

// NotifyEditorDirty reports the text editor's dirty flag for a path.
func (e *Engine) NotifyEditorDirty(relPath string, dirty bool, version int64) {
	e.bus.Publish(Event{Kind: EventEditorDirty, Path: relPath, Dirty: dirty, Version: version})
}

// RequestReload asks for a full reload of the primary document and its
// includes. The request is tagged with a fresh sequence number; if a
// newer request is made before this one is handled, this one is
// discarded — only the last-started reload ever commits.
func (e *Engine) RequestReload() {
	seq := e.reloadSeq.Add(1)
	e.bus.Publish(Event{Kind: EventReloadRequested, Seq: seq})
}

// Save writes the primary document and its unsaved includes through the
// save coordinator. Safe to call from any goroutine; returns
// ErrSaveInFlight if a save is already running.
//
// The save runs on the bus goroutine like every other record access —
// SavePrimary reads and mutates records, which have no locks of their
// own. The caller blocks until the save has run or the bus shuts down.
// When the bus is not running no goroutine owns the records, so the
// save executes directly.
func (e *Engine) Save() error {
	reply := make(chan error, 1)
	if !e.bus.Publish(Event{Kind: EventSaveRequested, Reply: reply}) {
		return e.saveNow()
	}
	select {
	case err := <-reply:
		return err
	case <-e.bus.Done():
		return fmt.Errorf("engine stopped before the save could run")
	}
}

// saveNow performs the coordinated save. Bus goroutine only (or a
// stopped engine).
func (e *Engine) saveNow() error {
	return e.saver.SavePrimary(e.reg, e.docVersion.Load())
}

// --- event handling (bus goroutine only) ---------------------------------

func (e *Engine) handleEvent(ev Event) {
	switch ev.Kind {
	case EventFileChanged:
		e.handleFileChanged(ev)
	case EventEditorSaved:
		e.handleEditorSaved(ev)
	case EventEditApplied:
		if rec := e.reg.Get(ev.Path); rec != nil {
			rec.MarkFrontendEdit(ev.Content)
		} else {
			e.logger.Printf("Ignoring edit for untracked path %s", ev.Path)
		}
	case EventEditingStarted:
		if rec := e.reg.Get(ev.Path); rec != nil {
			rec.SetEditMode(true)
		}
	case EventEditingStopped:
		if rec := e.reg.Get(ev.Path); rec != nil {
			rec.SetEditMode(false)
		}
	case EventEditorDirty:
		if ev.Version > e.docVersion.Load() {
			e.docVersion.Store(ev.Version)
		}
		if rec := e.reg.Get(ev.Path); rec != nil {
			rec.SetDirtyInEditor(ev.Dirty)
		}
	case EventReloadRequested:
		e.handleReload(ev.Seq)
	case EventSaveRequested:
		err := e.saveNow()
		if ev.Reply != nil {
			ev.Reply <- err
		}
	default:
		e.logger.Printf("Ignoring unknown event kind %d", ev.Kind)
	}
}

func (e *Engine) handleFileChanged(ev Event) {
	abs := e.reg.AbsPath(ev.Path)
	if IsBackupPath(abs) {
		return
	}
	if e.saver.IsOwnFileWrite(abs) {
		e.logger.Printf("Ignoring %s event for %s: our own write", ev.Change, ev.Path)
		return
	}

	if abs == e.primaryPath {
		e.handlePrimaryExternalChange(ev.Change)
		return
	}

	rec := e.reg.Get(ev.Path)
	if rec == nil {
		// Not referenced by the document; discovery will pick it up if a
		// future primary change references it.
		return
	}
	e.processExternalChange(rec, ev.Change)
}

// handleEditorSaved reacts to the plain-text editor committing the
// primary document. Our own save produces the same notification; the two
// self-write signals (state flag, version range) each independently
// suffice to ignore it.
func (e *Engine) handleEditorSaved(ev Event) {
	if ev.Version > e.docVersion.Load() {
		e.docVersion.Store(ev.Version)
	}
	if e.saver.IsSelfWrite(ev.Version) {
		e.logger.Printf("Editor save at version %d is our own write", ev.Version)
		return
	}
	e.handlePrimaryExternalChange(ChangeModified)
}

// handlePrimaryExternalChange classifies an external mutation of the
// primary document, then reconciles the include set against its new
// content.
func (e *Engine) handlePrimaryExternalChange(kind ChangeKind) {
	primary := e.reg.Primary()
	if primary == nil {
		return
	}
	e.processExternalChange(primary, kind)
	e.syncIncludes(primary.Current())
}

// processExternalChange is the core detection path: read disk, capture
// an open edit, classify, apply the policy or resolve the conflict.
func (e *Engine) processExternalChange(rec *FileRecord, kind ChangeKind) {
	if e.saver.State() != SaveIdle {
		// Reload logic never runs while a save is in flight; the save's
		// completion leaves baseline equal to what it wrote.
		e.logger.Printf("Skipping change detection for %s: save in flight", rec.RelPath)
		return
	}

	diskContent, readErr := e.readDisk(rec)
	if readErr != nil {
		// An unreadable file is no information, not "no change".
		e.logger.Printf("Warning: cannot read %s, deferring change detection: %v", rec.RelPath, readErr)
		return
	}

	if rec.InEditMode() {
		CaptureBaseline(context.Background(), e.editSource, rec, e.config.CaptureTimeout, e.logger)
	}

	outcome := Classify(ClassifyRecord(rec, diskContent))
	e.logger.Printf("Classified %s change on %s: %s", kind, rec.RelPath, outcome)

	switch outcome {
	case OutcomeNoChange:
		rec.CacheDiskState(time.Now(), diskContent)

	case OutcomeStaleNoop:
		rec.AcceptBaseline(diskContent)

	case OutcomeSafeExternalUpdate:
		rec.MarkExternalChange(diskContent)
		e.saver.NoteReloaded(rec.Key())
		e.notifyBoardUpdated(rec.RelPath)

	case OutcomeConflict:
		cc := BuildContext(rec, kind)
		res, err := e.resolver.Resolve(context.Background(), rec, diskContent, cc)
		if err != nil {
			e.logger.Printf("Warning: conflict resolution for %s: %v", rec.RelPath, err)
		}
		if res.Choice == ChoiceTakeTheirs || res.Choice == ChoiceBackupAndTakeTheirs {
			e.saver.NoteReloaded(rec.Key())
			e.notifyBoardUpdated(rec.RelPath)
		}
	}
}

// readDisk returns current disk content for a record. Deletion is an
// external change to empty content, not an error; any other read failure
// is "no information" and defers detection.
func (e *Engine) readDisk(rec *FileRecord) (string, error) {
	data, err := os.ReadFile(rec.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// handleReload performs a full reload unless superseded or blocked.
func (e *Engine) handleReload(seq int64) {
	if seq != e.reloadSeq.Load() {
		e.logger.Printf("Discarding reload %d: superseded by %d", seq, e.reloadSeq.Load())
		return
	}
	if e.saver.State() != SaveIdle {
		e.logger.Printf("Refusing reload %d: save in flight", seq)
		return
	}

	primary := e.reg.Primary()
	if primary == nil {
		return
	}
	diskContent, err := e.readDisk(primary)
	if err != nil {
		e.logger.Printf("Warning: reload %d failed to read primary: %v", seq, err)
		return
	}

	// The read was a suspension point; a newer request may have started.
	if seq != e.reloadSeq.Load() {
		e.logger.Printf("Discarding reload %d after read: superseded", seq)
		return
	}

	if primary.InEditMode() {
		CaptureBaseline(context.Background(), e.editSource, primary, e.config.CaptureTimeout, e.logger)
		if seq != e.reloadSeq.Load() {
			e.logger.Printf("Discarding reload %d after capture: superseded", seq)
			return
		}
	}

	outcome := Classify(ClassifyRecord(primary, diskContent))
	switch outcome {
	case OutcomeNoChange:
		primary.CacheDiskState(time.Now(), diskContent)
	case OutcomeStaleNoop:
		primary.AcceptBaseline(diskContent)
	case OutcomeSafeExternalUpdate:
		primary.MarkExternalChange(diskContent)
		e.notifyBoardUpdated(primary.RelPath)
	case OutcomeConflict:
		cc := BuildContext(primary, ChangeModified)
		if _, err := e.resolver.Resolve(context.Background(), primary, diskContent, cc); err != nil {
			e.logger.Printf("Warning: conflict resolution during reload: %v", err)
		}
	}
	e.syncIncludes(primary.Current())
}

// syncIncludes reconciles the registry against the include references in
// the primary document's current content: new references get records,
// dropped references are retired through the unsaved-removal protocol.
// The watcher hook is told the new directory set.
func (e *Engine) syncIncludes(primaryContent string) {
	refs, err := e.scanner.Scan(primaryContent)
	if err != nil {
		e.logger.Printf("Warning: include discovery failed: %v", err)
		return
	}

	wanted := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if IsBackupPath(ref.RelPath) {
			continue
		}
		wanted[PathKey(ref.RelPath)] = struct{}{}
		if _, err := e.reg.GetOrCreate(ref.RelPath, ref.Role); err != nil {
			e.logger.Printf("Warning: failed to track include %s: %v", ref.RelPath, err)
		}
	}

	for _, rec := range e.reg.All() {
		if rec.Role == RolePrimary {
			continue
		}
		if _, ok := wanted[rec.Key()]; !ok {
			if err := e.reg.Retire(rec.RelPath, e.backups); err != nil {
				e.logger.Printf("Warning: failed to retire %s: %v", rec.RelPath, err)
			}
		}
	}

	e.notifyIncludesChanged()
}

// notifyIncludesChanged reports the watch-directory set derived from the
// current record set. Directories are symlink-resolved before watching:
// a watch on the symlink spelling would miss events delivered under the
// target, so the watcher gets resolved paths and dirOrigin remembers the
// way back to each record's spelling.
func (e *Engine) notifyIncludesChanged() {
	origin := make(map[string]string)
	for _, rec := range e.reg.All() {
		dir := filepath.Dir(rec.Path)
		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil {
			resolved = dir
		}
		// When several spellings resolve to one directory, prefer the
		// identity mapping so unrelated files in it keep their own path.
		if prev, ok := origin[resolved]; !ok || (prev != resolved && dir == resolved) {
			origin[resolved] = dir
		}
	}
	e.dirsMu.Lock()
	e.dirOrigin = origin
	e.dirsMu.Unlock()

	if e.onIncludesChanged == nil {
		return
	}
	dirs := make([]string, 0, len(origin))
	for d := range origin {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	e.onIncludesChanged(dirs)
}

func (e *Engine) notifyBoardUpdated(relPath string) {
	if e.onBoardUpdated != nil {
		e.onBoardUpdated(relPath)
	}
}

// toRel converts a watcher-delivered path to a registry-relative path.
// Events under a symlink-resolved watch directory are mapped back to the
// spelling the registry tracks before the relative path is computed.
func (e *Engine) toRel(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	dir, base := filepath.Split(path)
	e.dirsMu.RLock()
	orig, ok := e.dirOrigin[filepath.Clean(dir)]
	e.dirsMu.RUnlock()
	if ok {
		path = filepath.Join(orig, base)
	}
	rel, err := filepath.Rel(e.reg.Root(), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Shutdown enforces the exit contract: every record still holding
// unsaved changes is durably backed up before the process exits. Silent
// loss on shutdown is a correctness violation, so backup failures are
// returned, not just logged.
func (e *Engine) Shutdown() error {
	e.Stop()

	var firstErr error
	for _, rec := range e.reg.All() {
		if !rec.HasUnsavedChanges() {
			continue
		}
		content := rec.Current()
		if rec.capturePending {
			content = rec.Baseline()
		}
		backupPath, err := e.backups.CreateBackup(rec.Path, content, BackupOptions{
			Label:       "shutdown",
			ForceCreate: true,
		})
		if err != nil {
			e.logger.Printf("Error: failed to back up unsaved changes for %s: %v", rec.RelPath, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("unsaved changes for %s could not be backed up: %w", rec.RelPath, err)
			}
			continue
		}
		e.logger.Printf("Preserved unsaved changes for %s at %s", rec.RelPath, backupPath)
	}
	return firstErr
}
