package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/zhouzirui/haven/backend/internal/handler/chat"
	"github.com/zhouzirui/haven/backend/internal/handler/stream"
	"github.com/zhouzirui/haven/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/haven/backend/internal/middleware"
	"github.com/zhouzirui/haven/backend/internal/notify"
	chatService "github.com/zhouzirui/haven/backend/internal/service/chat"
	"github.com/zhouzirui/haven/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, hub *notify.Hub, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(logger.With().Str("component", "http").Logger()))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc, logger.With().Str("component", "http.chat").Logger())
	wsHandler := chat.NewWebSocketHandler(chatSvc, hub, logger.With().Str("component", "http.ws").Logger())
	streamHandler := stream.New(chatSvc, hub, logger.With().Str("component", "http.sse").Logger())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}

// accessLog 每个请求结束后记录一条访问日志。
func accessLog(r *http.Request, status, size int, duration time.Duration) {
	event := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
