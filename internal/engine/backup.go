package engine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// backupInfix appears in every backup filename. Backup siblings are
// hidden (dot-prefixed) and carry a timestamp plus random suffix so they
// can never collide with a tracked path or with each other.
const backupInfix = ".mbd-backup"

// BackupOptions controls backup creation.
type BackupOptions struct {
	// Label is embedded in the filename ("conflict", "shutdown",
	// "retired", ...).
	Label string
	// ForceCreate writes the backup even when content is empty.
	ForceCreate bool
}

// BackupWriter durably preserves content that is about to be discarded
// from the live model. Backups are plain sibling files, distinguishable
// by name so the watcher and registry never pick them up as includes.
type BackupWriter struct {
	logger *log.Logger
}

// NewBackupWriter creates a BackupWriter logging through the given
// logger.
func NewBackupWriter(logger *log.Logger) *BackupWriter {
	return &BackupWriter{logger: ensureLogger(logger)}
}

// CreateBackup writes content next to path and returns the backup path.
// Empty content is skipped unless ForceCreate is set (an intentionally
// cleared field is still worth preserving when the caller says so).
func (b *BackupWriter) CreateBackup(path, content string, opts BackupOptions) (string, error) {
	if content == "" && !opts.ForceCreate {
		return "", nil
	}

	label := opts.Label
	if label == "" {
		label = "backup"
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	stamp := time.Now().Format("20060102-150405")
	suffix := uuid.NewString()[:8]
	name := fmt.Sprintf(".%s%s-%s-%s-%s", base, backupInfix, label, stamp, suffix)
	backupPath := filepath.Join(dir, name)

	if err := os.WriteFile(backupPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write backup %s: %w", backupPath, err)
	}

	b.logger.Printf("Backed up %s to %s (%d bytes)", base, name, len(content))
	return backupPath, nil
}

// IsBackupPath reports whether a filename is one of our backup siblings.
// Used by the watcher filter and the registry so backups never enter
// tracking.
func IsBackupPath(path string) bool {
	return strings.Contains(filepath.Base(path), backupInfix)
}
