package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"liveclass/internal/auth"
	"liveclass/internal/pipeline"
	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Registry exposes the connection statistics the API needs without
// coupling to the websocket package's implementation.
type Registry interface {
	GetStats() map[string]int
}

// Scheduler queues content preparation for a time slot.
type Scheduler interface {
	Schedule(ctx context.Context, timeslotID, topic string) error
}

// Server is the HTTP control plane. It holds no business logic; handlers
// validate input, call the session manager or store, and serialize JSON.
type Server struct {
	sessions  *session.Manager
	store     interfaces.Store
	registry  Registry
	scheduler Scheduler
	validator *auth.Validator
	router    *http.ServeMux
}

// NewServer wires the control plane routes.
func NewServer(sessions *session.Manager, store interfaces.Store, registry Registry, scheduler Scheduler, validator *auth.Validator) *Server {
	s := &Server{
		sessions:  sessions,
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		validator: validator,
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions/start", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStartSession))))
	s.router.Handle("/api/sessions/end", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleEndSession))))
	s.router.Handle("/api/sessions/active", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleActiveSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/api/schedule/topic", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUpdateTopic))))
	s.router.Handle("/api/schedule", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleListSchedule))))
	s.router.Handle("/api/content/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleGetContent))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization.

type StartSessionRequest struct {
	RoomID     string `json:"room_id"`
	TimeSlotID string `json:"timeslot_id"`
}

type StartSessionResponse struct {
	Session *types.LiveSession `json:"session"`
}

type EndSessionRequest struct {
	RoomID string `json:"room_id"`
}

type EndSessionResponse struct {
	SessionID       string `json:"session_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	AttendanceCount int    `json:"attendance_count"`
}

type TransitionRequest struct {
	State   string                 `json:"state"`
	Payload map[string]interface{} `json:"payload"`
}

type UpdateTopicRequest struct {
	TimeSlotID string `json:"timeslot_id"`
	Topic      string `json:"topic"`
}

type ActiveSessionsResponse struct {
	Sessions []*types.ActiveSessionInfo `json:"sessions"`
}

type ScheduleResponse struct {
	TimeSlots []*types.TimeSlot `json:"timeslots"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// requireTeacher authenticates the request and ensures a teacher identity.
func (s *Server) requireTeacher(w http.ResponseWriter, r *http.Request) *auth.Identity {
	identity, err := s.validator.FromRequest(r)
	if err != nil {
		s.sendError(w, "Authentication required", http.StatusUnauthorized)
		return nil
	}
	if identity.Role != auth.RoleTeacher {
		s.sendError(w, "Teacher role required", http.StatusForbidden)
		return nil
	}
	return identity
}

// requireUser authenticates the request with any valid identity.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) *auth.Identity {
	identity, err := s.validator.FromRequest(r)
	if err != nil {
		s.sendError(w, "Authentication required", http.StatusUnauthorized)
		return nil
	}
	return identity
}

// POST /api/sessions/start
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := s.requireTeacher(w, r)
	if identity == nil {
		return
	}

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.RoomID == "" {
		s.sendError(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Start(r.Context(), req.RoomID, req.TimeSlotID, identity.UserID)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrBatchNotFound):
			s.sendError(w, "Batch not found", http.StatusNotFound)
		case errors.Is(err, session.ErrNotRoomOwner):
			s.sendError(w, "Not the batch teacher", http.StatusForbidden)
		case errors.Is(err, types.ErrInvalidRoomID):
			s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		default:
			s.sendError(w, "Failed to start session", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(StartSessionResponse{Session: sess})
}

// POST /api/sessions/end
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if identity := s.requireTeacher(w, r); identity == nil {
		return
	}

	var req EndSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.RoomID == "" {
		s.sendError(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	result, err := s.sessions.End(r.Context(), req.RoomID)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			s.sendError(w, "No active session for room", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to end session", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(EndSessionResponse{
		SessionID:       result.SessionID,
		DurationSeconds: int64(result.Duration.Seconds()),
		AttendanceCount: result.AttendanceCount,
	})
}

// POST /api/sessions/{id}/transition
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "transition" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if identity := s.requireTeacher(w, r); identity == nil {
		return
	}
	sessionID := parts[0]

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	err := s.sessions.Transition(r.Context(), sessionID, types.SessionState(req.State), req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrSessionNotFound):
			s.sendError(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, session.ErrSessionEnded):
			s.sendError(w, "Session already ended", http.StatusConflict)
		case errors.Is(err, session.ErrInvalidTargetState),
			errors.Is(err, session.ErrMissingPayload),
			errors.Is(err, session.ErrPayloadNotAllowed):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		default:
			s.sendError(w, "Failed to transition session", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Transition committed"})
}

// GET /api/sessions/active
func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := s.requireTeacher(w, r)
	if identity == nil {
		return
	}

	sessions, err := s.sessions.ListActive(r.Context(), identity.UserID)
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*types.ActiveSessionInfo{}
	}

	json.NewEncoder(w).Encode(ActiveSessionsResponse{Sessions: sessions})
}

// PUT /api/schedule/topic
func (s *Server) handleUpdateTopic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if identity := s.requireTeacher(w, r); identity == nil {
		return
	}

	var req UpdateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TimeSlotID == "" {
		s.sendError(w, "Time slot ID is required", http.StatusBadRequest)
		return
	}

	if err := s.scheduler.Schedule(r.Context(), req.TimeSlotID, req.Topic); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrTimeSlotNotFound):
			s.sendError(w, "Time slot not found", http.StatusNotFound)
		case errors.Is(err, pipeline.ErrEmptyTopic):
			s.sendError(w, "Topic is required", http.StatusBadRequest)
		case errors.Is(err, pipeline.ErrQueueFull):
			s.sendError(w, "Preparation queue is full", http.StatusServiceUnavailable)
		default:
			s.sendError(w, "Failed to schedule preparation", http.StatusInternalServerError)
		}
		return
	}

	// The topic is committed and the slot is PENDING; generation finishes
	// asynchronously.
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"timeslot_id": req.TimeSlotID,
		"status":      string(types.PrepPending),
	})
}

// GET /api/schedule?batch_id=
func (s *Server) handleListSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if identity := s.requireUser(w, r); identity == nil {
		return
	}

	batchID := r.URL.Query().Get("batch_id")
	if batchID == "" {
		s.sendError(w, "batch_id query parameter is required", http.StatusBadRequest)
		return
	}

	slots, err := s.store.ListTimeSlots(r.Context(), batchID)
	if err != nil {
		s.sendError(w, "Failed to list schedule", http.StatusInternalServerError)
		return
	}
	if slots == nil {
		slots = []*types.TimeSlot{}
	}

	json.NewEncoder(w).Encode(ScheduleResponse{TimeSlots: slots})
}

// GET /api/content/{timeslot_id}
func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if identity := s.requireUser(w, r); identity == nil {
		return
	}

	timeslotID := strings.TrimPrefix(r.URL.Path, "/api/content/")
	if timeslotID == "" || strings.Contains(timeslotID, "/") {
		s.sendError(w, "Time slot ID required", http.StatusBadRequest)
		return
	}

	content, err := s.store.GetContent(r.Context(), timeslotID)
	if err != nil {
		if errors.Is(err, interfaces.ErrContentNotFound) {
			s.sendError(w, "Content not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to get content", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(content)
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
