package uiproto

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/markboard/markboard/internal/engine"
)

// recorderSink captures engine notifications for assertions.
type recorderSink struct {
	mu      sync.Mutex
	started []string
	stopped []string
	applied map[string]string
	saved   []int64
	reloads int
	saves   int
}

func newRecorderSink() *recorderSink {
	return &recorderSink{applied: make(map[string]string)}
}

func (r *recorderSink) NotifyEditingStarted(rel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, rel)
}

func (r *recorderSink) NotifyEditingStopped(rel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, rel)
}

func (r *recorderSink) NotifyEditApplied(rel, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[rel] = content
}

func (r *recorderSink) NotifyEditorSaved(version int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, version)
}

func (r *recorderSink) NotifyEditorDirty(rel string, dirty bool, version int64) {}

func (r *recorderSink) RequestReload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloads++
}

func (r *recorderSink) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	return nil
}

func testServer(t *testing.T) (*Server, *recorderSink) {
	t.Helper()
	sink := newRecorderSink()
	server := NewServer(sink, &Config{
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server, sink
}

func dialServer(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// The server registers the client in its own goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if server.ClientCount() == 0 {
		t.Fatal("client never registered")
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return msg
}

// TestServer_StartStop verifies the lifecycle.
func TestServer_StartStop(t *testing.T) {
	sink := newRecorderSink()
	server := NewServer(sink, &Config{Port: 0, Logger: log.New(io.Discard, "", 0)})

	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if server.Addr() == "" {
		t.Error("Addr() empty after Start()")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

// TestServer_InboundDispatch verifies UI messages reach the sink.
func TestServer_InboundDispatch(t *testing.T) {
	server, sink := testServer(t)
	conn := dialServer(t, server)

	send(t, conn, &EditingStarted{Path: "todo.md"})
	send(t, conn, &EditApplied{Path: "todo.md", Content: "New task"})
	send(t, conn, &EditingStoppedNormal{Path: "todo.md"})
	send(t, conn, &EditorSaved{Version: 7})
	send(t, conn, &ReloadRequested{})
	send(t, conn, &SaveRequested{})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		done := sink.saves == 1
		sink.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.started) != 1 || sink.started[0] != "todo.md" {
		t.Errorf("started = %v", sink.started)
	}
	if sink.applied["todo.md"] != "New task" {
		t.Errorf("applied = %v", sink.applied)
	}
	if len(sink.stopped) != 1 {
		t.Errorf("stopped = %v", sink.stopped)
	}
	if len(sink.saved) != 1 || sink.saved[0] != 7 {
		t.Errorf("saved = %v", sink.saved)
	}
	if sink.reloads != 1 || sink.saves != 1 {
		t.Errorf("reloads = %d, saves = %d", sink.reloads, sink.saves)
	}
}

// TestServer_BoardUpdatedBroadcast verifies the engine-side push reaches
// the client.
func TestServer_BoardUpdatedBroadcast(t *testing.T) {
	server, _ := testServer(t)
	conn := dialServer(t, server)

	server.NotifyBoardUpdated("done.md")

	msg := receive(t, conn)
	updated, ok := msg.(*BoardUpdated)
	if !ok {
		t.Fatalf("received %T, want *BoardUpdated", msg)
	}
	if updated.Path != "done.md" {
		t.Errorf("path = %q", updated.Path)
	}
}

// TestServer_CaptureRoundTrip verifies the capture protocol: request out,
// result in, value delivered to the waiting caller.
func TestServer_CaptureRoundTrip(t *testing.T) {
	server, _ := testServer(t)
	conn := dialServer(t, server)

	// Answer capture requests like a UI would.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			return
		}
		req, ok := msg.(*CaptureEditValue)
		if !ok {
			return
		}
		reply, _ := Encode(&CaptureEditValueResult{
			RequestID: req.RequestID,
			Value:     "half-typed task",
			Present:   true,
		})
		_ = conn.Write(ctx, websocket.MessageText, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, ok, err := server.CaptureEditValue(ctx, "todo.md")
	if err != nil {
		t.Fatalf("CaptureEditValue() failed: %v", err)
	}
	if !ok || value != "half-typed task" {
		t.Errorf("capture = (%q, %v)", value, ok)
	}
}

// TestServer_CaptureNoClient verifies capture reports no value rather
// than blocking when no UI is connected.
func TestServer_CaptureNoClient(t *testing.T) {
	server, _ := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok, err := server.CaptureEditValue(ctx, "todo.md")
	if err != nil {
		t.Fatalf("CaptureEditValue() failed: %v", err)
	}
	if ok {
		t.Error("capture with no client should report no value")
	}
}

// TestServer_CaptureTimeout verifies an unanswered capture honors the
// caller's deadline.
func TestServer_CaptureTimeout(t *testing.T) {
	server, _ := testServer(t)
	dialServer(t, server) // connected but silent

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok, err := server.CaptureEditValue(ctx, "todo.md")
	if err == nil {
		t.Error("unanswered capture should return the deadline error")
	}
	if ok {
		t.Error("unanswered capture should report no value")
	}
}

// TestServer_ConflictRoundTrip verifies the prompt/choice protocol.
func TestServer_ConflictRoundTrip(t *testing.T) {
	server, _ := testServer(t)
	conn := dialServer(t, server)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			return
		}
		prompt, ok := msg.(*ConflictPrompt)
		if !ok {
			return
		}
		reply, _ := Encode(&ConflictChoice{
			PromptID: prompt.PromptID,
			Choice:   ChoiceBackupAndTakeTheirs,
		})
		_ = conn.Write(ctx, websocket.MessageText, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	choice, err := server.ShowConflict(ctx, engine.ConflictContext{
		ID:      "prompt-1",
		RelPath: "todo.md",
		Role:    engine.RoleIncludeLeafContent,
		Change:  engine.ChangeModified,
	})
	if err != nil {
		t.Fatalf("ShowConflict() failed: %v", err)
	}
	if choice != engine.ChoiceBackupAndTakeTheirs {
		t.Errorf("choice = %s", choice)
	}
}

// TestServer_ConflictNoClient verifies the dialog reports unavailability
// so the engine can take the safest action.
func TestServer_ConflictNoClient(t *testing.T) {
	server, _ := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := server.ShowConflict(ctx, engine.ConflictContext{ID: "p"})
	if err != engine.ErrDialogUnavailable {
		t.Errorf("err = %v, want ErrDialogUnavailable", err)
	}
}
