package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/haven/backend/internal/notify"
	chatService "github.com/zhouzirui/haven/backend/internal/service/chat"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Subscriber delivers notices for one session.
type Subscriber interface {
	Subscribe(sessionID string) (<-chan notify.Notice, func())
}

// WebSocketHandler WebSocket会话处理器
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	notices  Subscriber
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器。notices 可以为 nil。
func NewWebSocketHandler(chatSvc *chatService.Service, notices Subscriber, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		notices: notices,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer raw.Close()

	conn := &wsConn{conn: raw}
	log := h.logger.With().Str("session_id", sessionID).Logger()
	log.Info().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go h.pingLoop(ctx, conn)
	if h.notices != nil {
		notices, unsubscribe := h.notices.Subscribe(sessionID)
		defer unsubscribe()
		go h.forwardNotices(ctx, conn, sessionID, notices)
	}

	_ = conn.writeJSON(outgoingMessage{
		Type:      "connected",
		SessionID: sessionID,
		Data:      map[string]any{"messages": session.Messages()},
		Timestamp: time.Now().UnixMilli(),
	})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch msg.Type {
		case "message":
			result := session.Send(ctx, msg.Text)
			if err := conn.writeJSON(outgoingMessage{
				Type:      "result",
				SessionID: sessionID,
				Data:      result,
				Timestamp: time.Now().UnixMilli(),
			}); err != nil {
				log.Warn().Err(err).Msg("websocket write failed")
				return
			}
		default:
			_ = conn.writeJSON(outgoingMessage{
				Type:      "error",
				SessionID: sessionID,
				Error:     "unsupported message type: " + msg.Type,
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

func (h *WebSocketHandler) forwardNotices(ctx context.Context, conn *wsConn, sessionID string, notices <-chan notify.Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if err := conn.writeJSON(outgoingMessage{
				Type:      "notice",
				SessionID: sessionID,
				Data:      n,
				Timestamp: time.Now().UnixMilli(),
			}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
