package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/haven/backend/internal/notify"
	chatService "github.com/zhouzirui/haven/backend/internal/service/chat"
	"github.com/zhouzirui/haven/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Subscriber delivers notices for one session.
type Subscriber interface {
	Subscribe(sessionID string) (<-chan notify.Notice, func())
}

// Handler streams escalation notices to the shell via Server-Sent Events.
type Handler struct {
	chatSvc   *chatService.Service
	notices   Subscriber
	logger    zerolog.Logger
	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, notices Subscriber, logger zerolog.Logger) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		notices:   notices,
		logger:    logger,
		heartbeat: heartbeatInterval,
	}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

type readyEvent struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	notices, unsubscribe := h.notices.Subscribe(sessionID)
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	log := h.logger.With().Str("session_id", sessionID).Logger()
	log.Debug().Msg("sse stream opened")
	defer log.Debug().Msg("sse stream closed")

	if err := utils.SendSSEEvent(w, flusher, "ready", readyEvent{SessionID: sessionID}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(n.Kind), n); err != nil {
				log.Debug().Err(err).Msg("sse write failed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
