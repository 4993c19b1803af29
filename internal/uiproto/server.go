package uiproto

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/markboard/markboard/internal/engine"
)

// Sink receives the UI's notifications. The engine implements it; tests
// substitute a recorder.
type Sink interface {
	NotifyEditingStarted(relPath string)
	NotifyEditingStopped(relPath string)
	NotifyEditApplied(relPath, content string)
	NotifyEditorSaved(version int64)
	NotifyEditorDirty(relPath string, dirty bool, version int64)
	RequestReload()
	Save() error
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks an ephemeral port.
	Port int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   7391,
		Logger: log.Default(),
	}
}

// Server bridges websocket UI clients to the sync engine. Inbound
// messages become Sink notifications; outbound messages are broadcast to
// every connected client.
//
// The server also implements engine.EditValueSource and engine.Dialog:
// both protocols are request/response over the same channel, correlated
// by request ID. With no client connected a capture reports no value and
// a conflict prompt reports ErrDialogUnavailable, so the engine falls
// back to its safest behavior.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	sink     Sink

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	pendingCaptures map[string]chan CaptureEditValueResult
	pendingPrompts  map[string]chan string
	pendingMu       sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a UI bridge server feeding sink.
func NewServer(sink Sink, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:            fmt.Sprintf(":%d", config.Port),
		sink:            sink,
		clients:         make(map[*websocket.Conn]bool),
		broadcast:       make(chan Message, 100),
		pendingCaptures: make(map[string]chan CaptureEditValueResult),
		pendingPrompts:  make(map[string]chan string),
		ctx:             ctx,
		cancel:          cancel,
		logger:          config.Logger,
	}
}

// Start begins the HTTP server and websocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("UI bridge listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("UI bridge server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("UI bridge shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected UI clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an outbound message for every connected client.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Warning: UI broadcast queue full, dropping %T", msg)
	}
}

// NotifyBoardUpdated pushes a refresh hint for relPath to the UI. Wired
// as the engine's board-updated hook.
func (s *Server) NotifyBoardUpdated(relPath string) {
	s.Broadcast(&BoardUpdated{Path: relPath})
}

// CaptureEditValue implements engine.EditValueSource over the UI
// channel. Returns no value when no client is connected or none answers
// before ctx expires.
func (s *Server) CaptureEditValue(ctx context.Context, key string) (string, bool, error) {
	if s.ClientCount() == 0 {
		return "", false, nil
	}

	id := uuid.NewString()
	ch := make(chan CaptureEditValueResult, 1)
	s.pendingMu.Lock()
	s.pendingCaptures[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pendingCaptures, id)
		s.pendingMu.Unlock()
	}()

	s.Broadcast(&CaptureEditValue{RequestID: id, Key: key})

	select {
	case res := <-ch:
		return res.Value, res.Present, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-s.ctx.Done():
		return "", false, s.ctx.Err()
	}
}

// ShowConflict implements engine.Dialog over the UI channel.
func (s *Server) ShowConflict(ctx context.Context, cc engine.ConflictContext) (engine.Choice, error) {
	if s.ClientCount() == 0 {
		return engine.ChoiceCancelled, engine.ErrDialogUnavailable
	}

	ch := make(chan string, 1)
	s.pendingMu.Lock()
	s.pendingPrompts[cc.ID] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pendingPrompts, cc.ID)
		s.pendingMu.Unlock()
	}()

	s.Broadcast(&ConflictPrompt{
		PromptID:       cc.ID,
		Path:           cc.RelPath,
		Role:           cc.Role.String(),
		Change:         cc.Change.String(),
		UnsavedInModel: cc.UnsavedInModel,
		EditOpen:       cc.EditOpen,
		DirtyInEditor:  cc.DirtyInEditor,
	})

	select {
	case choice := <-ch:
		switch choice {
		case ChoiceKeepMine:
			return engine.ChoiceKeepMine, nil
		case ChoiceTakeTheirs:
			return engine.ChoiceTakeTheirs, nil
		case ChoiceBackupAndTakeTheirs:
			return engine.ChoiceBackupAndTakeTheirs, nil
		default:
			return engine.ChoiceCancelled, nil
		}
	case <-ctx.Done():
		return engine.ChoiceCancelled, ctx.Err()
	case <-s.ctx.Done():
		return engine.ChoiceCancelled, engine.ErrDialogUnavailable
	}
}

// broadcastLoop fans queued messages out to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := Encode(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %T: %v", msg, err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Printf("Failed to send to UI client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to websocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("UI client connected (total: %d)", count)

	go s.readLoop(conn)
}

// readLoop decodes and dispatches one client's inbound messages.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			s.logger.Printf("Dropping undecodable UI message: %v", err)
			continue
		}
		s.dispatch(msg)
	}
}

// dispatch routes one inbound message. Outbound-only kinds arriving from
// a client are a protocol violation and get dropped with a warning.
func (s *Server) dispatch(msg Message) {
	switch m := msg.(type) {
	case *EditingStarted:
		s.sink.NotifyEditingStarted(m.Path)
	case *EditingStoppedNormal:
		s.sink.NotifyEditingStopped(m.Path)
	case *EditApplied:
		s.sink.NotifyEditApplied(m.Path, m.Content)
	case *EditorSaved:
		s.sink.NotifyEditorSaved(m.Version)
	case *EditorDirty:
		s.sink.NotifyEditorDirty(m.Path, m.Dirty, m.Version)
	case *ReloadRequested:
		s.sink.RequestReload()
	case *SaveRequested:
		if err := s.sink.Save(); err != nil {
			s.logger.Printf("UI-requested save failed: %v", err)
		}
	case *CaptureEditValueResult:
		s.pendingMu.Lock()
		ch := s.pendingCaptures[m.RequestID]
		s.pendingMu.Unlock()
		if ch == nil {
			s.logger.Printf("Dropping capture result for unknown request %s", m.RequestID)
			return
		}
		select {
		case ch <- *m:
		default:
		}
	case *ConflictChoice:
		s.pendingMu.Lock()
		ch := s.pendingPrompts[m.PromptID]
		s.pendingMu.Unlock()
		if ch == nil {
			s.logger.Printf("Dropping choice for unknown prompt %s", m.PromptID)
			return
		}
		select {
		case ch <- m.Choice:
		default:
		}
	default:
		s.logger.Printf("Dropping unexpected inbound message %T", msg)
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("UI client disconnected (total: %d)", count)
		return
	}
	s.clientsMu.Unlock()
}

// handleHealth reports liveness and client count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","clients":%d}`+"\n", count)
}
