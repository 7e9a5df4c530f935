// Package api serves the local HTTP surface of the dashboard: instructor
// commands, snapshot ingestion, local event injection and read queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"seatboard/internal/engine"
	"seatboard/internal/hub"
	"seatboard/internal/websocket"
	"seatboard/pkg/types"
)

// Hub runs work on the goroutine that owns the engine.
type Hub interface {
	Execute(ctx context.Context, fn func(*engine.Engine)) error
	SubmitEvent(event types.OccupantEvent) error
	Running() bool
}

// HealthChecker is implemented by the roster store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ViewerStats reports dashboard viewer counts.
type ViewerStats interface {
	GetStats() websocket.Stats
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	hub     Hub
	roster  HealthChecker // nil when no roster is configured
	viewers ViewerStats
	limiter *RateLimiter // nil when unlimited
	router  *http.ServeMux
	logger  *zap.SugaredLogger
	started time.Time
}

// NewServer wires the routes. roster may be nil.
func NewServer(h Hub, roster HealthChecker, viewers ViewerStats, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		hub:     h,
		roster:  roster,
		viewers: viewers,
		router:  http.NewServeMux(),
		logger:  logger,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Handle("/api/classes", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleClasses))))
	s.router.Handle("/api/classes/", s.corsMiddleware(s.jsonMiddleware(s.rateLimitMiddleware(http.HandlerFunc(s.handleClassByID)))))
	s.router.Handle("/api/occupants/", s.corsMiddleware(s.jsonMiddleware(s.rateLimitMiddleware(http.HandlerFunc(s.handleOccupantByID)))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// LimitWrites caps mutating requests at perMinute per client address.
// Zero or less removes the cap.
func (s *Server) LimitWrites(perMinute int) {
	if perMinute <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = NewRateLimiter(perMinute)
}

// Mount adds a non-JSON handler, such as the dashboard websocket endpoint.
func (s *Server) Mount(pattern string, handler http.Handler) {
	s.router.Handle(pattern, handler)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type InitializeRequest struct {
	Capacity   int  `json:"capacity"`
	ForceReset bool `json:"force_reset"`
}

type ScoreRequest struct {
	OccupantID int64 `json:"occupant_id"`
	Delta      int   `json:"delta"`
}

type ClassSummary struct {
	ClassID        string `json:"class_id"`
	Initialized    bool   `json:"initialized"`
	TotalCapacity  int    `json:"total_capacity"`
	OccupiedCount  int    `json:"occupied_count"`
	AvailableSlots int    `json:"available_slots"`
	Pending        int    `json:"pending"`
	Viewers        int    `json:"viewers"`
}

type ListClassesResponse struct {
	Classes []ClassSummary `json:"classes"`
}

type ResultResponse struct {
	ClassID string `json:"class_id,omitempty"`
	Applied bool   `json:"applied"`
	Count   int    `json:"count,omitempty"`
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Engine    string                 `json:"engine"`
	Roster    string                 `json:"roster"`
	Viewers   websocket.Stats        `json:"viewers"`
	System    map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/classes - tracked classes with counts
func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var summaries []ClassSummary
	err := s.hub.Execute(r.Context(), func(e *engine.Engine) {
		for _, id := range e.Classes() {
			view, _ := e.ClassView(id)
			summaries = append(summaries, ClassSummary{
				ClassID:        id,
				Initialized:    e.Initialized(id),
				TotalCapacity:  view.TotalCapacity,
				OccupiedCount:  view.OccupiedCount,
				AvailableSlots: view.AvailableSlots,
				Pending:        e.Pending(id),
			})
		}
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	stats := s.viewers.GetStats()
	for i := range summaries {
		summaries[i].Viewers = stats.Classes[summaries[i].ClassID]
	}
	if summaries == nil {
		summaries = []ClassSummary{}
	}
	_ = json.NewEncoder(w).Encode(ListClassesResponse{Classes: summaries})
}

// FUNCTIONAL DISCOVERY: /api/classes/{id}/{action} dispatches per class
func (s *Server) handleClassByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/classes/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	classID, action := parts[0], parts[1]
	if !types.IsValidClassID(classID) {
		s.sendError(w, types.ErrInvalidClassID.Error(), http.StatusBadRequest)
		return
	}

	method := http.MethodPost
	if action == "seats" {
		method = http.MethodGet
	}
	if r.Method != method {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "seats":
		s.getSeats(w, r, classID)
	case "initialize":
		s.initialize(w, r, classID)
	case "snapshot":
		s.applySnapshot(w, r, classID)
	case "events":
		s.submitEvent(w, r, classID)
	case "scores":
		s.updateScore(w, r, classID)
	case "clear-scores":
		s.classCommand(w, r, classID, (*engine.Engine).ClearAllScores)
	case "reset-seats":
		s.classCommand(w, r, classID, (*engine.Engine).ResetAllSeats)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// GET /api/classes/{id}/seats
func (s *Server) getSeats(w http.ResponseWriter, r *http.Request, classID string) {
	var (
		view  types.ClassView
		found bool
	)
	err := s.hub.Execute(r.Context(), func(e *engine.Engine) {
		view, found = e.ClassView(classID)
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if !found {
		s.sendError(w, ErrClassNotFound.Error(), http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(view)
}

// POST /api/classes/{id}/initialize
func (s *Server) initialize(w http.ResponseWriter, r *http.Request, classID string) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Capacity < 0 {
		s.sendError(w, types.ErrNegativeCapacity.Error(), http.StatusBadRequest)
		return
	}

	var applied bool
	err := s.hub.Execute(r.Context(), func(e *engine.Engine) {
		applied = e.Initialize(classID, req.Capacity, req.ForceReset)
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(ResultResponse{ClassID: classID, Applied: applied})
}

// POST /api/classes/{id}/snapshot
// FUNCTIONAL DISCOVERY: the path class wins over any classId in the body
func (s *Server) applySnapshot(w http.ResponseWriter, r *http.Request, classID string) {
	var snapshot types.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	snapshot.ClassID = classID
	if err := snapshot.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var applied bool
	err := s.hub.Execute(r.Context(), func(e *engine.Engine) {
		applied = e.ApplySnapshot(snapshot)
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(ResultResponse{ClassID: classID, Applied: applied, Count: len(snapshot.Occupants)})
}

// POST /api/classes/{id}/events accepts either {"occupant": {...}} or a bare occupant.
func (s *Server) submitEvent(w http.ResponseWriter, r *http.Request, classID string) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	events, err := types.DecodeEnvelope(&types.Envelope{
		Type:    types.EventTypeOccupantUpdate,
		ClassID: classID,
		Data:    raw,
	})
	if err != nil || len(events) != 1 {
		s.sendError(w, fmt.Sprintf("Invalid event: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.hub.SubmitEvent(events[0]); err != nil {
		s.sendEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(ResultResponse{ClassID: classID, Applied: true})
}

// POST /api/classes/{id}/scores
func (s *Server) updateScore(w http.ResponseWriter, r *http.Request, classID string) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.OccupantID <= 0 {
		s.sendError(w, ErrInvalidOccupantID.Error(), http.StatusBadRequest)
		return
	}

	var applied bool
	err := s.hub.Execute(r.Context(), func(e *engine.Engine) {
		applied = e.UpdateScore(classID, req.OccupantID, req.Delta)
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(ResultResponse{ClassID: classID, Applied: applied})
}

// classCommand runs a class-wide command; false from the engine means the
// class is not tracked.
func (s *Server) classCommand(w http.ResponseWriter, r *http.Request, classID string, cmd func(*engine.Engine, string) bool) {
	var applied bool
	err := s.hub.Execute(r.Context(), func(e *engine.Engine) {
		applied = cmd(e, classID)
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if !applied {
		s.sendError(w, ErrClassNotFound.Error(), http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(ResultResponse{ClassID: classID, Applied: true})
}

// FUNCTIONAL DISCOVERY: DELETE /api/occupants/{id}[?except_class=] evicts an
// enrolled student from every class, or every class but one
func (s *Server) handleOccupantByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/occupants/"), "/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, ErrInvalidOccupantID.Error(), http.StatusBadRequest)
		return
	}
	except := r.URL.Query().Get("except_class")
	if except != "" && !types.IsValidClassID(except) {
		s.sendError(w, types.ErrInvalidClassID.Error(), http.StatusBadRequest)
		return
	}

	var removed int
	err = s.hub.Execute(r.Context(), func(e *engine.Engine) {
		if except != "" {
			removed = e.RemoveOccupantExcept(id, except)
		} else {
			removed = e.RemoveOccupant(id)
		}
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(ResultResponse{Applied: removed > 0, Count: removed})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	engineStatus := "healthy"
	rosterStatus := "disabled"

	if !s.hub.Running() {
		status = "unhealthy"
		engineStatus = "stopped"
	}
	if s.roster != nil {
		rosterStatus = "healthy"
		if err := s.roster.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			rosterStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Engine:    engineStatus,
		Roster:    rosterStatus,
		Viewers:   s.viewers.GetStats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// sendEngineError maps hub failures onto HTTP status codes.
func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hub.ErrHubNotRunning), errors.Is(err, hub.ErrEventChannelFull):
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.sendError(w, ErrEngineUnavailable.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Errorw("Engine request failed", "error", err)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies the write cap; reads are never limited.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && r.Method != http.MethodGet && !s.limiter.Allow(clientAddr(r)) {
			s.sendError(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
