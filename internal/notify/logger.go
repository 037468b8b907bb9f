package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Logger records notices in the service log. This is the log-only channel
// that is always enabled.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Advise(_ context.Context, n Notice) error {
	l.logger.Warn().
		Str("session_id", n.SessionID).
		Str("kind", string(n.Kind)).
		Msg(n.Text)
	return nil
}

func (l *Logger) Notify(_ context.Context, n Notice) error {
	l.logger.Warn().
		Str("session_id", n.SessionID).
		Str("kind", string(n.Kind)).
		Str("contact", n.Contact).
		Msg(n.Text)
	return nil
}
