package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/haven/backend/internal/model/chat"
	chatService "github.com/zhouzirui/haven/backend/internal/service/chat"
	"github.com/zhouzirui/haven/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  zerolog.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger zerolog.Logger) *Handler {
	return &Handler{chatSvc: chatSvc, logger: logger}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
}

type transcriptResponse struct {
	SessionID string         `json:"sessionId"`
	Messages  []chat.Message `json:"messages"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("create session failed")
		utils.RespondError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleListMessages 返回会话记录，order=desc 时最新的在前
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatSvc.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	switch r.URL.Query().Get("order") {
	case "", "asc":
	case "desc":
		messages = chat.Reversed(messages)
	default:
		utils.RespondError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	utils.RespondJSON(w, http.StatusOK, transcriptResponse{SessionID: sessionID, Messages: messages})
}

// handleSendMessage 发送用户消息并返回完整记录
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text *string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Text == nil {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.chatSvc.SendMessage(r.Context(), chi.URLParam(r, "sessionID"), *payload.Text)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatService.ErrInvalidSessionID) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error().Err(err).Msg("chat request failed")
	utils.RespondError(w, http.StatusInternalServerError, "internal error")
}
