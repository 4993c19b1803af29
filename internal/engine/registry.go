package engine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry owns the collection of FileRecords for one open board, keyed
// by normalized relative path. Records are created lazily the first time
// a path is referenced and retired when the document stops referencing
// them.
//
// GetOrCreate is safe for concurrent use: record creation involves a
// disk read (a suspension point), so an in-flight marker per key ensures
// two concurrent requests for the same not-yet-created path produce one
// record, never two.
type Registry struct {
	root string

	mu       sync.Mutex
	records  map[string]*FileRecord
	creating map[string]chan struct{}

	logger *log.Logger
}

// NewRegistry creates a registry rooted at the primary document's
// directory; relative include paths resolve against it.
func NewRegistry(root string, logger *log.Logger) *Registry {
	return &Registry{
		root:     root,
		records:  make(map[string]*FileRecord),
		creating: make(map[string]chan struct{}),
		logger:   ensureLogger(logger),
	}
}

// Root returns the directory relative paths resolve against.
func (reg *Registry) Root() string { return reg.root }

// AbsPath resolves a relative include path against the registry root.
// When the path is already tracked the record's absolute path is
// returned, so the case spelling of the first reference wins regardless
// of how later notifications spell it; identity is decided by PathKey,
// not by filesystem case.
func (reg *Registry) AbsPath(rel string) string {
	reg.mu.Lock()
	rec := reg.records[PathKey(rel)]
	reg.mu.Unlock()
	if rec != nil {
		return rec.Path
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(rel, "\\", "/"))
	return filepath.Join(reg.root, filepath.FromSlash(cleaned))
}

// Get returns the record for a path under any spelling, or nil. An
// earlier failed hydration is retried here.
func (reg *Registry) Get(rel string) *FileRecord {
	reg.mu.Lock()
	rec := reg.records[PathKey(rel)]
	reg.mu.Unlock()

	if rec != nil && !rec.Hydrated() {
		reg.retryHydration(rec)
	}
	return rec
}

// GetOrCreate returns the record for rel, creating and hydrating it from
// disk on first reference. Creation is idempotent under concurrency: the
// loser of a creation race waits for the winner's record.
//
// A disk read error during hydration is not fatal: the record is created
// with empty content, the error is logged, and hydration is retried on
// the next Get.
func (reg *Registry) GetOrCreate(rel string, role Role) (*FileRecord, error) {
	key := PathKey(rel)
	if key == "" {
		return nil, fmt.Errorf("empty include path")
	}
	if IsBackupPath(key) {
		return nil, fmt.Errorf("refusing to track backup file %s", rel)
	}

	for {
		reg.mu.Lock()
		if rec, ok := reg.records[key]; ok {
			reg.mu.Unlock()
			return rec, nil
		}
		if inflight, ok := reg.creating[key]; ok {
			// Another caller is hydrating this record; wait and re-check.
			reg.mu.Unlock()
			<-inflight
			continue
		}
		marker := make(chan struct{})
		reg.creating[key] = marker
		reg.mu.Unlock()

		rec := reg.hydrate(rel, role)

		reg.mu.Lock()
		reg.records[key] = rec
		delete(reg.creating, key)
		reg.mu.Unlock()
		close(marker)
		return rec, nil
	}
}

// hydrate reads initial content from disk and builds the record. Runs
// outside the registry lock.
func (reg *Registry) hydrate(rel string, role Role) *FileRecord {
	abs := reg.AbsPath(rel)

	content, err := os.ReadFile(abs)
	if err != nil {
		reg.logger.Printf("Warning: failed to read %s, tracking with empty content: %v", rel, err)
		rec := NewFileRecord(abs, rel, role, "")
		rec.hydrated = false
		return rec
	}
	return NewFileRecord(abs, rel, role, string(content))
}

// retryHydration lazily re-reads a record whose initial read failed.
func (reg *Registry) retryHydration(rec *FileRecord) {
	content, err := os.ReadFile(rec.Path)
	if err != nil {
		return
	}
	reg.mu.Lock()
	if !rec.Hydrated() {
		rec.rehydrate(string(content))
		reg.logger.Printf("Hydrated %s on retry (%d bytes)", rec.RelPath, len(content))
	}
	reg.mu.Unlock()
}

// All returns a stable-ordered snapshot of every tracked record.
func (reg *Registry) All() []*FileRecord {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]*FileRecord, 0, len(reg.records))
	for _, rec := range reg.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of tracked records.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.records)
}

// Primary returns the record with RolePrimary, or nil before Track.
func (reg *Registry) Primary() *FileRecord {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, rec := range reg.records {
		if rec.Role == RolePrimary {
			return rec
		}
	}
	return nil
}

// Retire removes a record that the document no longer references.
//
// Retirement runs the unsaved-removal protocol first: a record holding
// unsaved changes is backed up before deletion so dropping a reference
// from the document can never destroy an edit.
func (reg *Registry) Retire(rel string, backups *BackupWriter) error {
	key := PathKey(rel)

	reg.mu.Lock()
	rec, ok := reg.records[key]
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	if rec.HasUnsavedChanges() && backups != nil {
		content := rec.Current()
		if rec.capturePending {
			// The unsaved side lives in the captured edit value.
			content = rec.Baseline()
		}
		if _, err := backups.CreateBackup(rec.Path, content, BackupOptions{Label: "retired", ForceCreate: true}); err != nil {
			return fmt.Errorf("failed to back up %s before retiring: %w", rel, err)
		}
	}

	reg.mu.Lock()
	delete(reg.records, key)
	reg.mu.Unlock()

	reg.logger.Printf("Retired record %s", key)
	return nil
}
