package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/haven/backend/internal/metrics"
	"github.com/zhouzirui/haven/backend/internal/notify"
)

const (
	DefaultThreshold = -2.0
	// DefaultNoticeTimeout bounds each sink call so a slow channel cannot hold the session.
	DefaultNoticeTimeout = 3 * time.Second

	AdvisoryTitle = "Alert"
	AdvisoryText  = "You seem very emotional. Do you want to contact someone?"
	DispatchTitle = "Emergency Alert"
)

// Config 控制升级阈值与紧急联系人。
type Config struct {
	Threshold        float64
	EmergencyContact string
	// Cooldown throttles notices per session. Zero fires on every qualifying message.
	Cooldown time.Duration
	// NoticeTimeout bounds each Advise and Notify call. Zero means DefaultNoticeTimeout.
	NoticeTimeout time.Duration
}

// Escalator decides whether a score is risky and fires the two notices.
type Escalator struct {
	cfg    Config
	sink   notify.Sink
	logger zerolog.Logger

	mu        sync.Mutex
	throttles map[string]*rate.Sometimes
}

func New(cfg Config, sink notify.Sink, logger zerolog.Logger) *Escalator {
	if cfg.NoticeTimeout <= 0 {
		cfg.NoticeTimeout = DefaultNoticeTimeout
	}
	return &Escalator{
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		throttles: make(map[string]*rate.Sometimes),
	}
}

// ShouldEscalate reports whether score is strictly below the threshold.
func (e *Escalator) ShouldEscalate(score float64) bool {
	return score < e.cfg.Threshold
}

// Escalate fires the advisory and then, unconditionally, the dispatch notice.
// It reports whether the notices were sent (false only when throttled).
func (e *Escalator) Escalate(ctx context.Context, sessionID string) bool {
	metrics.IncEscalation()

	if e.cfg.Cooldown <= 0 {
		e.fire(ctx, sessionID)
		return true
	}

	fired := false
	e.throttle(sessionID).Do(func() {
		e.fire(ctx, sessionID)
		fired = true
	})
	if !fired {
		e.logger.Info().Str("session_id", sessionID).Msg("escalation notices throttled by cooldown")
	}
	return fired
}

func (e *Escalator) fire(ctx context.Context, sessionID string) {
	now := time.Now().UTC()

	advisory := notify.Notice{
		SessionID: sessionID,
		Kind:      notify.KindAdvisory,
		Title:     AdvisoryTitle,
		Text:      AdvisoryText,
		CreatedAt: now,
	}
	err := e.deliver(ctx, advisory, e.sink.Advise)
	metrics.IncNotice(string(notify.KindAdvisory), err == nil)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Msg("advisory notice failed")
	}

	// The dispatch is not gated on the advisory's outcome or a user reply.
	dispatch := notify.Notice{
		SessionID: sessionID,
		Kind:      notify.KindDispatch,
		Title:     DispatchTitle,
		Text:      fmt.Sprintf("Message sent to %s", e.cfg.EmergencyContact),
		Contact:   e.cfg.EmergencyContact,
		CreatedAt: now,
	}
	err = e.deliver(ctx, dispatch, e.sink.Notify)
	metrics.IncNotice(string(notify.KindDispatch), err == nil)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Msg("dispatch notice failed")
	}
}

// deliver 为单个通知设置超时；超时按失败处理，不影响后续通知。
func (e *Escalator) deliver(ctx context.Context, n notify.Notice, send func(context.Context, notify.Notice) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.NoticeTimeout)
	defer cancel()
	return send(ctx, n)
}

func (e *Escalator) throttle(sessionID string) *rate.Sometimes {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.throttles[sessionID]
	if !ok {
		s = &rate.Sometimes{Interval: e.cfg.Cooldown}
		e.throttles[sessionID] = s
	}
	return s
}
