package main

import (
	"sync/atomic"

	"github.com/markboard/markboard/internal/engine"
)

// deferredSink breaks the construction cycle between the UI bridge and
// the engine: the bridge needs a sink at creation, the engine needs the
// bridge as its dialog and edit-value source. Notifications arriving
// before bind are dropped; nothing meaningful can arrive before the
// engine exists.
type deferredSink struct {
	eng atomic.Pointer[engine.Engine]
}

func (d *deferredSink) bind(eng *engine.Engine) {
	d.eng.Store(eng)
}

func (d *deferredSink) NotifyEditingStarted(relPath string) {
	if e := d.eng.Load(); e != nil {
		e.NotifyEditingStarted(relPath)
	}
}

func (d *deferredSink) NotifyEditingStopped(relPath string) {
	if e := d.eng.Load(); e != nil {
		e.NotifyEditingStopped(relPath)
	}
}

func (d *deferredSink) NotifyEditApplied(relPath, content string) {
	if e := d.eng.Load(); e != nil {
		e.NotifyEditApplied(relPath, content)
	}
}

func (d *deferredSink) NotifyEditorSaved(version int64) {
	if e := d.eng.Load(); e != nil {
		e.NotifyEditorSaved(version)
	}
}

func (d *deferredSink) NotifyEditorDirty(relPath string, dirty bool, version int64) {
	if e := d.eng.Load(); e != nil {
		e.NotifyEditorDirty(relPath, dirty, version)
	}
}

func (d *deferredSink) RequestReload() {
	if e := d.eng.Load(); e != nil {
		e.RequestReload()
	}
}

func (d *deferredSink) Save() error {
	if e := d.eng.Load(); e != nil {
		return e.Save()
	}
	return nil
}
