package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/haven/backend/internal/analysis/sentiment"
	"github.com/zhouzirui/haven/backend/internal/config"
	"github.com/zhouzirui/haven/backend/internal/handler"
	"github.com/zhouzirui/haven/backend/internal/history"
	"github.com/zhouzirui/haven/backend/internal/logging"
	"github.com/zhouzirui/haven/backend/internal/metrics"
	"github.com/zhouzirui/haven/backend/internal/notify"
	"github.com/zhouzirui/haven/backend/internal/service/ai"
	"github.com/zhouzirui/haven/backend/internal/service/chat"
	"github.com/zhouzirui/haven/backend/internal/service/escalation"
	"github.com/zhouzirui/haven/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log)
	log.Logger = logger
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment variables only")
	}

	metrics.MustRegister()

	kv, closeStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("chat history store ready")

	generator, err := ai.NewGenerator(ctx, cfg.Generation, cfg.AI)
	if err != nil {
		logger.Warn().Err(err).Str("provider", cfg.Generation.Provider).
			Msg("generation unavailable, every reply will be the fallback")
		generator = nil
	} else if cfg.Generation.Provider != "ark" && cfg.Generation.APIKey == "" {
		logger.Warn().Str("provider", cfg.Generation.Provider).Msg("GENERATION_API_KEY 未配置，请求大概率失败")
	}

	hub := notify.NewHub()
	defer hub.Close()

	sink, closeSinks := buildSinks(cfg.Notify, hub, logger)
	defer closeSinks()

	escalator := escalation.New(escalation.Config{
		Threshold:        cfg.Escalation.Threshold,
		EmergencyContact: cfg.Escalation.EmergencyContact,
		Cooldown:         cfg.Escalation.Cooldown,
		NoticeTimeout:    cfg.Escalation.NoticeTimeout,
	}, sink, logging.Component(logger, "escalation"))

	chatService := chat.NewService(chat.Deps{
		History:   history.NewRepository(kv),
		Generator: generator,
		Scorer:    sentiment.NewAnalyzer(),
		Escalator: escalator,
		Logger:    logging.Component(logger, "chat"),
		Timeout:   cfg.Generation.Timeout,
	})

	if cfg.Session.IdleTTL > 0 {
		go chatService.RunEviction(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)
	}

	router := handler.NewRouter(chatService, hub, logger)

	startServer(ctx, cfg.Server, router, logger)
}

// buildSinks always includes the log sink and the in-process hub; the
// remote channels join when configured.
func buildSinks(cfg config.NotifyConfig, hub *notify.Hub, logger zerolog.Logger) (notify.Sink, func()) {
	sinks := notify.Multi{
		notify.NewLogger(logging.Component(logger, "notify")),
		hub,
	}
	var closers []func()

	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.WebhookURL, cfg.WebhookToken))
		logger.Info().Msg("webhook notifications enabled")
	}

	if cfg.NATSURL != "" {
		natsSink, conn, err := notify.DialNATS(cfg.NATSURL, cfg.NATSToken, logging.Component(logger, "nats"))
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, skipping")
		} else {
			sinks = append(sinks, natsSink)
			closers = append(closers, func() { _ = conn.Drain() })
			logger.Info().Str("url", cfg.NATSURL).Msg("nats notifications enabled")
		}
	}

	if cfg.TelegramToken != "" {
		if cfg.TelegramChatID == 0 {
			logger.Warn().Msg("TELEGRAM_CONTACT_CHAT_ID 未配置，跳过 Telegram 通知")
		} else if tg, err := notify.DialTelegram(cfg.TelegramToken, cfg.TelegramChatID); err != nil {
			logger.Warn().Err(err).Msg("telegram unavailable, skipping")
		} else {
			sinks = append(sinks, tg)
			logger.Info().Msg("telegram notifications enabled")
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("Haven backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
