package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"collab-relay/internal/auth"
	"collab-relay/internal/database"
	"collab-relay/internal/models"
	"collab-relay/internal/services"
	"collab-relay/pkg/logger"
	"collab-relay/pkg/protocol"
)

// MessageService is the application layer behind the REST endpoints.
type MessageService interface {
	SendMessage(ctx context.Context, senderID string, key protocol.RoomKey, content, clientID string) (protocol.Event, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch protocol.TaskPatch) (*models.Task, error)
	MarkRead(ctx context.Context, userID string, key protocol.RoomKey) (*protocol.ReadReceipt, error)
	History(ctx context.Context, userID string, key protocol.RoomKey, limit int) ([]protocol.Event, error)
	Conversations(ctx context.Context, userID string) ([]protocol.ConversationSummary, error)
}

type MessageHandlers struct {
	service     MessageService
	authService *auth.Service
}

func NewMessageHandlers(service MessageService, authService *auth.Service) *MessageHandlers {
	return &MessageHandlers{
		service:     service,
		authService: authService,
	}
}

type sendMessageRequest struct {
	RoomKey  protocol.RoomKey `json:"roomKey"`
	Content  string           `json:"content"`
	ClientID string           `json:"clientId"`
}

type markReadRequest struct {
	RoomKey protocol.RoomKey `json:"roomKey"`
}

func (h *MessageHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authService.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ev, err := h.service.SendMessage(r.Context(), userID, req.RoomKey, req.Content, req.ClientID)
	if err != nil {
		writeError(w, "Send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, ev)
}

// History serves GET /api/messages?room=<key>&limit=<n>.
func (h *MessageHandlers) History(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authService.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	key, err := protocol.ParseRoomKey(r.URL.Query().Get("room"))
	if err != nil {
		http.Error(w, "invalid room", http.StatusBadRequest)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	events, err := h.service.History(r.Context(), userID, key, limit)
	if err != nil {
		writeError(w, "History", err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *MessageHandlers) Conversations(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authService.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	summaries, err := h.service.Conversations(r.Context(), userID)
	if err != nil {
		writeError(w, "List conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *MessageHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authService.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	receipt, err := h.service.MarkRead(r.Context(), userID, req.RoomKey)
	if err != nil {
		writeError(w, "Mark read", err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// UpdateTask serves PATCH /api/tasks/{id}.
func (h *MessageHandlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authService.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	taskID := r.PathValue("id")
	if taskID == "" {
		http.Error(w, "invalid task ID", http.StatusBadRequest)
		return
	}

	var patch protocol.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	task, err := h.service.UpdateTask(r.Context(), userID, taskID, patch)
	if err != nil {
		writeError(w, "Update task", err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidContent),
		errors.Is(err, services.ErrInvalidRoom),
		errors.Is(err, services.ErrInvalidPatch),
		errors.Is(err, protocol.ErrInvalidRoomKey):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrClientIDConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("%s error: %v", op, err)
		http.Error(w, "internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Encode response error: %v", err)
	}
}
