package engine

import (
	"strings"
	"time"
)

// Role describes how a tracked file's content is produced and consumed.
type Role int

const (
	// RolePrimary is the root board document. Exactly one record per
	// open board has this role.
	RolePrimary Role = iota
	// RoleIncludePlain is content only ever produced externally; the
	// structured UI never edits it, so external changes are always safe
	// to adopt.
	RoleIncludePlain
	// RoleIncludeStructured is a column include whose content is a list
	// of tasks the UI edits through the board model.
	RoleIncludeStructured
	// RoleIncludeLeafContent is a single task's body text pulled from a
	// file.
	RoleIncludeLeafContent
)

// String returns a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleIncludePlain:
		return "include-plain"
	case RoleIncludeStructured:
		return "include-structured"
	case RoleIncludeLeafContent:
		return "include-leaf-content"
	default:
		return "unknown"
	}
}

// FileRecord is the unit of tracked state for one file: the primary
// document or one include.
//
// The mutable fields are private and change only through the named
// mutators (MarkSaved, MarkExternalChange, MarkFrontendEdit, ...) so that
// every baseline/current transition has exactly one call site semantics.
// Records are mutated only on the event-bus goroutine; they carry no
// locks of their own.
type FileRecord struct {
	// Path is the absolute path; stable identity on disk.
	Path string
	// RelPath is the normalized relative path ("./" prefix preserved).
	RelPath string
	// Role determines which generation/parsing collaborator owns the
	// content format.
	Role Role

	current  string
	baseline string

	// capturePending is set when an uncommitted UI edit value has been
	// absorbed into baseline; it forces HasUnsavedChanges until the next
	// save or accepted reload.
	capturePending bool

	inEditMode    bool
	dirtyInEditor bool

	// hydrated is false until initial content has been read from disk
	// successfully; a failed hydration is retried on next access.
	hydrated bool

	lastDiskMTime   time.Time
	lastDiskContent string
	diskCacheValid  bool
}

// NewFileRecord creates a record with equal baseline and current content.
func NewFileRecord(absPath, relPath string, role Role, content string) *FileRecord {
	return &FileRecord{
		Path:     absPath,
		RelPath:  NormalizeRelPath(relPath),
		Role:     role,
		current:  content,
		baseline: content,
		hydrated: true,
	}
}

// Key returns the record's registry identity.
func (r *FileRecord) Key() string { return PathKey(r.RelPath) }

// Current returns the live in-memory content.
func (r *FileRecord) Current() string { return r.current }

// Baseline returns the last content known or accepted to match disk.
func (r *FileRecord) Baseline() string { return r.baseline }

// HasUnsavedChanges reports whether the record holds unreconciled user
// intent. It is derived from content, never toggled directly: true when
// current and baseline differ after trimming, or when an uncommitted UI
// edit has been captured into baseline.
func (r *FileRecord) HasUnsavedChanges() bool {
	if r.capturePending {
		return true
	}
	return strings.TrimSpace(r.current) != strings.TrimSpace(r.baseline)
}

// InEditMode reports whether a UI edit widget is open and uncommitted for
// content backed by this record.
func (r *FileRecord) InEditMode() bool { return r.inEditMode }

// DirtyInEditor reports whether the plain-text editor has uncommitted
// keystrokes for this record's path.
func (r *FileRecord) DirtyInEditor() bool { return r.dirtyInEditor }

// Hydrated reports whether initial content was successfully read from
// disk. An unhydrated record is retried lazily on next registry access.
func (r *FileRecord) Hydrated() bool { return r.hydrated }

// MarkSaved records a successful save: disk now matches current.
func (r *FileRecord) MarkSaved() {
	r.baseline = r.current
	r.capturePending = false
	r.diskCacheValid = false
}

// MarkExternalChange adopts externally-written disk content as the new
// truth for both baseline and current. Any captured edit is considered
// reconciled (the caller is responsible for backing it up first when the
// user did not explicitly discard it).
func (r *FileRecord) MarkExternalChange(diskContent string) {
	r.baseline = diskContent
	r.current = diskContent
	r.capturePending = false
	r.diskCacheValid = false
}

// MarkFrontendEdit applies a committed edit from the structured UI to the
// live content. Baseline is untouched; the record becomes unsaved.
func (r *FileRecord) MarkFrontendEdit(content string) {
	r.current = content
}

// MarkCapturedEdit absorbs an in-progress, uncommitted UI edit value into
// baseline only. Current and the structured model are untouched; the
// record reports unsaved changes until the capture is reconciled by a
// save or an accepted external change. The empty string is a valid
// captured value.
func (r *FileRecord) MarkCapturedEdit(value string) {
	r.baseline = value
	r.capturePending = true
}

// AcceptBaseline silently realigns baseline with disk content that turned
// out to be identical to current (a stale notification, not a real
// external change).
func (r *FileRecord) AcceptBaseline(diskContent string) {
	r.baseline = diskContent
	r.capturePending = false
	r.diskCacheValid = false
}

// SetEditMode brackets a UI edit session.
func (r *FileRecord) SetEditMode(open bool) { r.inEditMode = open }

// SetDirtyInEditor records whether the text editor holds uncommitted
// keystrokes for this path.
func (r *FileRecord) SetDirtyInEditor(dirty bool) { r.dirtyInEditor = dirty }

// CacheDiskState remembers the last observed disk mtime and content to
// avoid redundant reads.
func (r *FileRecord) CacheDiskState(mtime time.Time, content string) {
	r.lastDiskMTime = mtime
	r.lastDiskContent = content
	r.diskCacheValid = true
}

// CachedDiskState returns the last observed disk state, if still valid.
func (r *FileRecord) CachedDiskState() (time.Time, string, bool) {
	return r.lastDiskMTime, r.lastDiskContent, r.diskCacheValid
}

// rehydrate installs content read during a lazy retry after a failed
// initial hydration.
func (r *FileRecord) rehydrate(content string) {
	r.current = content
	r.baseline = content
	r.capturePending = false
	r.hydrated = true
}
