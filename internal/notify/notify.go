// Package notify delivers escalation notices to the user and to the
// configured emergency channels.
package notify

import (
	"context"
	"errors"
	"time"
)

// Kind distinguishes the two escalation notices.
type Kind string

const (
	// KindAdvisory asks the user whether to contact someone.
	KindAdvisory Kind = "advisory"
	// KindDispatch reports that the emergency contact was messaged.
	KindDispatch Kind = "dispatch"
)

// Notice is one escalation notice.
type Notice struct {
	SessionID string    `json:"sessionId"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Contact   string    `json:"contact,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sink receives notices. Callers log returned errors and move on.
type Sink interface {
	Advise(ctx context.Context, n Notice) error
	Notify(ctx context.Context, n Notice) error
}

// Multi fans each notice out to every sink, even after a failure.
type Multi []Sink

func (m Multi) Advise(ctx context.Context, n Notice) error {
	var errs []error
	for _, s := range m {
		if err := s.Advise(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
