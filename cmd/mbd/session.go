package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/markboard/markboard/internal/board"
	"github.com/markboard/markboard/internal/config"
	"github.com/markboard/markboard/internal/engine"
	"github.com/markboard/markboard/internal/watcher"
)

// session is one running board: the engine plus the filesystem watcher
// feeding it.
type session struct {
	boardPath string
	eng       *engine.Engine
	w         *watcher.Watcher
	logger    *log.Logger
}

// startSession wires and starts the engine and watcher for a board
// document. dialog and editSource may be nil for headless operation;
// onBoardUpdated, when non-nil, is installed before the engine starts.
func startSession(boardPath string, s *config.Settings, dialog engine.Dialog, editSource engine.EditValueSource, onBoardUpdated func(relPath string), logger *log.Logger) (*session, error) {
	abs, err := filepath.Abs(boardPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", boardPath, err)
	}

	scanner := board.NewScanner(filepath.Dir(abs))
	engCfg := engine.DefaultConfig()
	engCfg.CaptureTimeout = s.CaptureTimeout
	engCfg.RecentReloadWindow = s.RecentReloadWindow
	engCfg.Logger = logger

	eng, err := engine.New(abs, scanner, dialog, editSource, engCfg)
	if err != nil {
		return nil, err
	}

	w, err := watcher.New(&watcher.Config{
		Debounce: s.Debounce,
		Ignore:   engine.IsBackupPath,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	// Include discovery drives the watch set: every directory holding a
	// tracked file is watched.
	eng.SetIncludesChangedHook(func(dirs []string) {
		if err := w.SetDirs(dirs); err != nil {
			logger.Printf("Warning: failed to adjust watch set: %v", err)
		}
	})
	if onBoardUpdated != nil {
		eng.SetBoardUpdatedHook(onBoardUpdated)
	}

	if err := eng.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	if err := w.Start(filepath.Dir(abs)); err != nil {
		eng.Stop()
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}

	sess := &session{boardPath: abs, eng: eng, w: w, logger: logger}
	go sess.pumpEvents()
	go sess.pumpErrors()
	return sess, nil
}

// pumpEvents feeds watcher events into the engine until the watcher
// stops.
func (s *session) pumpEvents() {
	for ev := range s.w.Events() {
		s.eng.NotifyFileChanged(ev.Path, changeKind(ev.Op))
	}
}

func (s *session) pumpErrors() {
	for err := range s.w.Errors() {
		s.logger.Printf("Watcher error: %v", err)
	}
}

// wait blocks until SIGINT or SIGTERM.
func (s *session) wait() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	signal.Stop(sig)
}

// close stops the watcher and runs the engine's shutdown contract:
// unsaved content is backed up before the process exits.
func (s *session) close() error {
	if err := s.w.Stop(); err != nil {
		s.logger.Printf("Warning: watcher stop: %v", err)
	}
	return s.eng.Shutdown()
}

// changeKind maps a watcher operation to the engine's change kind.
func changeKind(op watcher.Op) engine.ChangeKind {
	switch op {
	case watcher.OpCreate:
		return engine.ChangeCreated
	case watcher.OpDelete:
		return engine.ChangeDeleted
	default:
		return engine.ChangeModified
	}
}
