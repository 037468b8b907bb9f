package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	SubjectAdvisory = "haven.escalation.advisory"
	SubjectDispatch = "haven.escalation.dispatch"
)

// publisher is the part of *nats.Conn the sink needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes every notice so downstream responders can act on it.
type NATS struct {
	conn publisher
}

// DialNATS connects to url and returns the sink plus the underlying conn.
func DialNATS(url, token string, logger zerolog.Logger) (*NATS, *nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("haven"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNATS(nc), nc, nil
}

func NewNATS(conn publisher) *NATS {
	return &NATS{conn: conn}
}

func (s *NATS) Advise(_ context.Context, n Notice) error {
	return s.publish(SubjectAdvisory, n)
}

func (s *NATS) Notify(_ context.Context, n Notice) error {
	return s.publish(SubjectDispatch, n)
}

func (s *NATS) publish(subject string, n Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
