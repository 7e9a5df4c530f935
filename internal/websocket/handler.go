package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"seatboard/internal/engine"
	"seatboard/pkg/types"
)

// Executor runs fn on the goroutine that owns the engine.
type Executor interface {
	Execute(ctx context.Context, fn func(*engine.Engine)) error
}

// Handler upgrades dashboard viewers on /ws?class_id=
// ARCHITECTURAL DISCOVERY: registration and the initial snapshot happen
// in one engine task so no seats_updated frame can precede the snapshot
type Handler struct {
	registry *Registry
	executor Executor
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

// NewHandler creates a viewer handler.
func NewHandler(registry *Registry, executor Executor, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		registry: registry,
		executor: executor,
		upgrader: websocket.Upgrader{
			// TECHNICAL DISCOVERY: Allow all origins for classroom environments
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket validates class_id, upgrades, and streams the class.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	classID := r.URL.Query().Get("class_id")
	if !types.IsValidClassID(classID) {
		http.Error(w, ErrInvalidParameters.Error(), http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Debugw("Dashboard upgrade failed", "class", classID, "error", err)
		return
	}
	conn := NewConnection(wsConn, classID)

	var sendErr error
	err = h.executor.Execute(r.Context(), func(e *engine.Engine) {
		view, ok := e.ClassView(classID)
		if !ok {
			view = emptyView(classID)
		}
		if sendErr = conn.TrySend(snapshotMessage(view)); sendErr != nil {
			return
		}
		sendErr = h.registry.Register(conn)
	})
	if err != nil || sendErr != nil {
		h.logger.Warnw("Dashboard viewer setup failed", "class", classID, "error", err, "send_error", sendErr)
		_ = conn.Close()
		return
	}
	h.logger.Debugw("Dashboard viewer connected", "class", classID, "connection", conn.ID())

	go h.handleConnection(conn)
}

// handleConnection keeps the viewer alive until it goes away
// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
// provides reliable connection health monitoring for classroom environments
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	// Viewers are read-only; inbound frames are discarded
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("Dashboard viewer read error", "connection", conn.ID(), "error", err)
			}
			return
		}
	}
}
