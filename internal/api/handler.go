package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/db"
	"github.com/jcarrillo/ticketera/internal/emitter"
)

// EventEmitter is the transactional emitter surface the handlers drive.
type EventEmitter interface {
	AssignTicket(ctx context.Context, ticketID string, agentID uuid.UUID) (*db.Ticket, *db.Comment, *emitter.Receipt, error)
	CloseTicket(ctx context.Context, ticketID string) (*db.Ticket, *emitter.Receipt, error)
	AddComment(ctx context.Context, ticketID string, authorID uuid.UUID, content string) (*db.Comment, *emitter.Receipt, error)
	CreateAnnouncement(ctx context.Context, groupID, teacherID uuid.UUID, title, content string, pinned bool) (*db.Announcement, *emitter.Receipt, error)
}

// NotificationStore is the status-store surface exposed over HTTP.
type NotificationStore interface {
	ListPending(ctx context.Context) ([]*db.PendingNotification, error)
	UpdateStatus(ctx context.Context, id, userID uuid.UUID, status db.NotificationStatus) (*db.Notification, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger  *zap.Logger
	emitter EventEmitter
	store   NotificationStore
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, em EventEmitter, store NotificationStore) *Handler {
	return &Handler{
		logger:  logger,
		emitter: em,
		store:   store,
	}
}

// Routes mounts all versioned endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tickets/{id}/assign", h.AssignTicket)
		r.Post("/tickets/{id}/close", h.CloseTicket)
		r.Post("/tickets/{id}/comments", h.AddComment)
		r.Post("/groups/{id}/announcements", h.CreateAnnouncement)
		r.Get("/notifications/pending", h.ListPendingNotifications)
		r.Post("/notifications/{id}/status", h.UpdateNotificationStatus)
	})
}

type assignRequest struct {
	AssignID string `json:"assign_id"`
}

type assignResponse struct {
	*db.Ticket
	Comment *db.Comment `json:"comment"`
	*emitter.Receipt
}

// AssignTicket handles POST /v1/tickets/{id}/assign
func (h *Handler) AssignTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "id")

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	agentID, err := uuid.Parse(req.AssignID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid assign_id", "assign_id must be a valid UUID")
		return
	}

	ticket, comment, receipt, err := h.emitter.AssignTicket(r.Context(), ticketID, agentID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to assign ticket")
		return
	}

	h.writeJSON(w, http.StatusOK, assignResponse{Ticket: ticket, Comment: comment, Receipt: receipt})
}

type ticketResponse struct {
	*db.Ticket
	*emitter.Receipt
}

// CloseTicket handles POST /v1/tickets/{id}/close
func (h *Handler) CloseTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "id")

	ticket, receipt, err := h.emitter.CloseTicket(r.Context(), ticketID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to close ticket")
		return
	}

	h.writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket, Receipt: receipt})
}

type commentRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

type commentResponse struct {
	*db.Comment
	*emitter.Receipt
}

// AddComment handles POST /v1/tickets/{id}/comments
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "id")

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Content == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing content", "content is required")
		return
	}

	authorID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	comment, receipt, err := h.emitter.AddComment(r.Context(), ticketID, authorID, req.Content)
	if err != nil {
		h.writeDomainError(w, err, "Failed to create comment")
		return
	}

	h.writeJSON(w, http.StatusCreated, commentResponse{Comment: comment, Receipt: receipt})
}

type announcementRequest struct {
	TeacherID string `json:"teacher_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	IsPinned  bool   `json:"is_pinned"`
}

type announcementResponse struct {
	*db.Announcement
	*emitter.Receipt
}

// CreateAnnouncement handles POST /v1/groups/{id}/announcements
func (h *Handler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid group ID", "ID must be a valid UUID")
		return
	}

	var req announcementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Title == "" || req.Content == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "title and content are required")
		return
	}

	teacherID, err := uuid.Parse(req.TeacherID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid teacher_id", "teacher_id must be a valid UUID")
		return
	}

	ann, receipt, err := h.emitter.CreateAnnouncement(r.Context(), groupID, teacherID, req.Title, req.Content, req.IsPinned)
	if err != nil {
		h.writeDomainError(w, err, "Failed to create announcement")
		return
	}

	h.writeJSON(w, http.StatusCreated, announcementResponse{Announcement: ann, Receipt: receipt})
}

// ListPendingNotifications handles GET /v1/notifications/pending
func (h *Handler) ListPendingNotifications(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.ListPending(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending notifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list pending notifications", "")
		return
	}

	if pending == nil {
		pending = []*db.PendingNotification{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"notifications": pending,
		"count":         len(pending),
	})
}

type statusRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// UpdateNotificationStatus handles POST /v1/notifications/{id}/status
func (h *Handler) UpdateNotificationStatus(w http.ResponseWriter, r *http.Request) {
	notifID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	notif, err := h.store.UpdateStatus(r.Context(), notifID, userID, db.NotificationStatus(req.Status))
	if err != nil {
		h.writeDomainError(w, err, "Failed to update notification status")
		return
	}

	h.writeJSON(w, http.StatusOK, notif)
}

// writeDomainError maps sentinel errors from the emitter and store onto
// HTTP statuses; anything unrecognized is a 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, title string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", title, err.Error())
	case errors.Is(err, db.ErrNotAuthorized):
		h.writeError(w, http.StatusForbidden, "forbidden", title, err.Error())
	case errors.Is(err, db.ErrTicketClosed):
		h.writeError(w, http.StatusForbidden, "ticket_closed", title, err.Error())
	case errors.Is(err, db.ErrIllegalTransition):
		h.writeError(w, http.StatusBadRequest, "illegal_transition", title, err.Error())
	default:
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
