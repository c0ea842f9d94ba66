package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"dm-engine/auth"
	"dm-engine/domain"
	"dm-engine/errors"
	"dm-engine/observability"
	"dm-engine/runtime"
	"dm-engine/services"
)

var validate = validator.New()

type Handler struct {
	log            *slog.Logger
	messageService services.IMessageService
	authService    services.IAuthService
	registry       *runtime.Registry
	metrics        *observability.EngineMetrics
	sinkBufferSize int
}

func NewHandler(
	log *slog.Logger,
	messageService services.IMessageService,
	authService services.IAuthService,
	registry *runtime.Registry,
	metrics *observability.EngineMetrics,
	sinkBufferSize int,
) *Handler {
	return &Handler{
		log:            log,
		messageService: messageService,
		authService:    authService,
		registry:       registry,
		metrics:        metrics,
		sinkBufferSize: sinkBufferSize,
	}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := errors.MapToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Success: false, Message: err.Error()})
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.ErrValidation)
		return
	}
	token, userID, err := h.authService.Register(req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, authResponse{Token: string(token), UserID: userID})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.ErrValidation)
		return
	}
	token, userID, err := h.authService.Login(req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, authResponse{Token: string(token), UserID: userID})
}

type sendMessageRequest struct {
	ReceiverID  string `json:"receiverId" validate:"required"`
	Content     string `json:"content" validate:"required"`
	MessageType string `json:"messageType" validate:"omitempty,oneof=text image video audio document"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	senderID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, errors.ErrUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.ErrValidation)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, errors.ErrValidation)
		return
	}

	message, err := h.messageService.Send(r.Context(), domain.SendMessageCommand{
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Type:       domain.MessageType(req.MessageType),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, message)
}

type historyResponse struct {
	Messages []domain.Message `json:"messages"`
	Cursor   *string          `json:"cursor,omitempty"`
}

// GetMessages serves the history page for a conversation. Fetching it also
// marks the caller's unread backlog as read (view = acknowledge).
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	currentUserID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, errors.ErrUnauthorized)
		return
	}
	otherUserID := chi.URLParam(r, "userID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, errors.ErrValidation)
			return
		}
		limit = parsed
	}
	var cursor *string
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor = &raw
	}

	messages, nextCursor, err := h.messageService.History(r.Context(), domain.HistoryCommand{
		UserID:  currentUserID,
		OtherID: otherUserID,
		Limit:   limit,
		Cursor:  cursor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, historyResponse{Messages: messages, Cursor: nextCursor})
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, errors.ErrUnauthorized)
		return
	}
	chats, err := h.messageService.Chats(userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, chats)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeData(w, http.StatusOK, h.metrics.Snapshot(h.registry.Count()))
}
