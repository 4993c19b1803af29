package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// EventKind tags the closed set of notifications the engine consumes.
type EventKind int

const (
	// EventFileChanged is a filesystem-watch notification.
	EventFileChanged EventKind = iota
	// EventEditorSaved means the plain-text editor committed the primary
	// document; carries the document version.
	EventEditorSaved
	// EventEditApplied means the structured UI committed an edit to a
	// record's content.
	EventEditApplied
	// EventEditingStarted brackets the opening of a UI edit widget.
	EventEditingStarted
	// EventEditingStopped brackets the normal close of a UI edit widget.
	EventEditingStopped
	// EventEditorDirty reports the text editor's uncommitted-keystrokes
	// flag for a tracked path.
	EventEditorDirty
	// EventReloadRequested asks for a full reload of the primary
	// document and its includes; carries the sequence number assigned
	// when the request was made.
	EventReloadRequested
	// EventSaveRequested asks for a coordinated save of the primary and
	// its unsaved includes; carries a reply channel for the result.
	// Saves mutate records, so they run on the consumer goroutine like
	// every other record access.
	EventSaveRequested
)

// String returns a human-readable representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventFileChanged:
		return "file-changed"
	case EventEditorSaved:
		return "editor-saved"
	case EventEditApplied:
		return "edit-applied"
	case EventEditingStarted:
		return "editing-started"
	case EventEditingStopped:
		return "editing-stopped"
	case EventEditorDirty:
		return "editor-dirty"
	case EventReloadRequested:
		return "reload-requested"
	case EventSaveRequested:
		return "save-requested"
	default:
		return "unknown"
	}
}

// Event is one notification flowing through the bus. Which fields are
// meaningful depends on Kind.
type Event struct {
	Kind EventKind
	// Path is relative for tracked-file events; normalized at dispatch.
	Path string
	// Change is set for EventFileChanged.
	Change ChangeKind
	// Content is set for EventEditApplied.
	Content string
	// Version is set for EventEditorSaved and EventEditorDirty.
	Version int64
	// Dirty is set for EventEditorDirty.
	Dirty bool
	// Seq is set for EventReloadRequested.
	Seq int64
	// Reply, set for EventSaveRequested, receives the operation's
	// result. Must be buffered; the handler never blocks on it.
	Reply chan error
}

// EventBus serializes every incoming change notification into a single
// consumer goroutine. While a handler runs — including across its
// suspension points (disk reads, dialog round-trips, capture timeouts) —
// newly arriving events queue up and are never interleaved. This is the
// mechanism that prevents a second notification from reclassifying a
// record while the first one's resolution dialog is still pending.
type EventBus struct {
	events  chan Event
	handler func(Event)
	done    chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger *log.Logger
}

// NewEventBus creates a bus dispatching to handler. The buffer bounds how
// many notifications may queue while a handler runs.
func NewEventBus(handler func(Event), buffer int, logger *log.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 128
	}
	return &EventBus{
		events:  make(chan Event, buffer),
		handler: handler,
		done:    make(chan struct{}),
		logger:  ensureLogger(logger),
	}
}

// Start launches the single consumer goroutine.
func (b *EventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("event bus already running")
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.running = true

	b.wg.Add(1)
	go b.drain(ctx)
	return nil
}

// Publish appends an event to the queue and reports whether it was
// accepted. It blocks only when the buffer is full, preserving arrival
// order; a Stop during that wait releases the publisher and the event is
// dropped with a warning, like any publish to a stopped bus.
func (b *EventBus) Publish(ev Event) bool {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		b.logger.Printf("Dropping %s event for %s: bus stopped", ev.Kind, ev.Path)
		return false
	}
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		b.logger.Printf("Dropping %s event for %s: bus stopped", ev.Kind, ev.Path)
		return false
	}
}

// Stop shuts the bus down and waits for the in-flight handler, if any,
// to finish. Queued events are discarded; publishers blocked on a full
// buffer are released.
func (b *EventBus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	close(b.done)
	cancel()
	b.wg.Wait()
}

// Done returns a channel closed when the bus stops. Callers waiting on
// an event's reply select against it so a shutdown between publish and
// dispatch cannot strand them.
func (b *EventBus) Done() <-chan struct{} {
	return b.done
}

// IsRunning reports whether the consumer goroutine is active.
func (b *EventBus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// drain is the single consumer loop: strictly one event at a time.
func (b *EventBus) drain(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			b.handler(ev)
		}
	}
}
