// Package watcher provides filesystem change notification for the board
// document and its include files.
//
// It wraps fsnotify with the behaviors the sync engine needs: it watches
// parent directories rather than individual files (editors typically
// replace files via rename, which drops inode-level watches), coalesces
// rapid event bursts for the same path, filters editor droppings, and
// can be re-pointed at a new directory set when include discovery
// changes.
package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op represents the type of file system operation.
type Op int

const (
	// OpCreate indicates a new file was created.
	OpCreate Op = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one coalesced file change.
type Event struct {
	// Path is the absolute path of the changed file.
	Path string
	// Op is the operation that occurred.
	Op Op
}

// Config holds watcher configuration.
type Config struct {
	// Debounce is how long to coalesce rapid events for the same path
	// before emitting one. Zero means a sensible default.
	Debounce time.Duration

	// Ignore, when non-nil, suppresses events for matching paths in
	// addition to the built-in editor-artifact filter.
	Ignore func(path string) bool

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 100 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

// Watcher monitors a set of directories and emits coalesced file events.
// It is safe for one controlling goroutine to Start/Stop/SetDirs while
// others read the Events and Errors channels.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	dirs    map[string]struct{}
	pending map[string]pendingEvent

	config *Config
}

type pendingEvent struct {
	op Op
	at time.Time
}

// New creates a watcher. Start it with Start before it emits events.
func New(config *Config) (*Watcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:     fsw,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		dirs:    make(map[string]struct{}),
		pending: make(map[string]pendingEvent),
		config:  config,
	}, nil
}

// Start begins watching the given directories.
func (w *Watcher) Start(dirs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	for _, dir := range dirs {
		if err := w.addDirLocked(dir); err != nil {
			return err
		}
	}

	w.running = true
	w.wg.Add(2)
	go w.processEvents()
	go w.flushPending()
	return nil
}

// SetDirs re-points the watcher at a new directory set, adding and
// removing watches as needed. Called when include discovery changes the
// tracked files.
func (w *Watcher) SetDirs(dirs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	wanted := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		wanted[filepath.Clean(dir)] = struct{}{}
	}

	for dir := range w.dirs {
		if _, ok := wanted[dir]; !ok {
			if err := w.fsw.Remove(dir); err != nil {
				w.config.Logger.Printf("Warning: failed to unwatch %s: %v", dir, err)
			}
			delete(w.dirs, dir)
		}
	}

	var firstErr error
	for dir := range wanted {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.addDirLocked(dir); err != nil {
			w.config.Logger.Printf("Warning: failed to watch %s: %v", dir, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// addDirLocked adds one directory watch. Caller holds the lock.
func (w *Watcher) addDirLocked(dir string) error {
	dir = filepath.Clean(dir)
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	w.dirs[dir] = struct{}{}
	return nil
}

// Stop stops watching and closes the Events and Errors channels. It
// blocks until the processing goroutines have exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel that emits coalesced file events. Closed
// when the watcher is stopped.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel that emits watcher errors. Closed when the
// watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher is currently active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// processEvents converts raw fsnotify events into pending entries.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if op, keep := w.convertEvent(event); keep {
				w.queue(event.Name, op)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// queue records a pending event for a path, overwriting any earlier
// un-flushed one so a burst collapses to its latest operation.
func (w *Watcher) queue(path string, op Op) {
	w.mu.Lock()
	w.pending[path] = pendingEvent{op: op, at: time.Now()}
	w.mu.Unlock()
}

// flushPending emits pending events once their debounce interval has
// passed without further activity.
func (w *Watcher) flushPending() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case <-ticker.C:
			now := time.Now()
			var ready []Event
			w.mu.Lock()
			for path, pe := range w.pending {
				if now.Sub(pe.at) < w.config.Debounce {
					continue
				}
				ready = append(ready, Event{Path: path, Op: pe.op})
				delete(w.pending, path)
			}
			w.mu.Unlock()

			for _, ev := range ready {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}
		}
	}
}

// convertEvent maps an fsnotify event to an Op, filtering out events the
// engine should never see.
func (w *Watcher) convertEvent(event fsnotify.Event) (Op, bool) {
	if isEditorArtifact(event.Name) {
		return 0, false
	}
	if w.config.Ignore != nil && w.config.Ignore(event.Name) {
		return 0, false
	}
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		return 0, false
	}

	switch {
	case event.Has(fsnotify.Create):
		return OpCreate, true
	case event.Has(fsnotify.Write):
		return OpModify, true
	case event.Has(fsnotify.Remove):
		return OpDelete, true
	case event.Has(fsnotify.Rename):
		// The new name triggers a separate create.
		return OpDelete, true
	default:
		// Chmod and friends carry no content change.
		return 0, false
	}
}

// isEditorArtifact filters the temporary files editors scatter next to
// the real ones.
func isEditorArtifact(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"):
		return true
	case strings.HasSuffix(base, "~"):
		return true
	case strings.HasSuffix(base, ".tmp"):
		return true
	case strings.HasPrefix(base, ".#"):
		return true
	}
	return false
}
