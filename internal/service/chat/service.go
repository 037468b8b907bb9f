package chat

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/haven/backend/internal/analysis/sentiment"
	"github.com/zhouzirui/haven/backend/internal/model/chat"
)

var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Service keeps the live sessions of this process. Idle sessions are dropped
// by EvictIdle and reloaded from the store on next use.
type Service struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService builds the registry. A nil Scorer defaults to the lexicon analyzer.
func NewService(deps Deps) *Service {
	if deps.Scorer == nil {
		deps.Scorer = sentiment.NewAnalyzer()
	}
	return &Service{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// CreateSession provisions a new conversation with a random ID.
func (s *Service) CreateSession(ctx context.Context) (chat.Session, error) {
	session, err := s.GetSession(ctx, uuid.NewString())
	if err != nil {
		return chat.Session{}, err
	}
	return session.Info(), nil
}

// GetSession returns the session for id, restoring its log on first use.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, ErrInvalidSessionID
	}

	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	if ok {
		session.touch()
	}
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		session, ok = s.sessions[sessionID]
		if !ok {
			session = newSession(sessionID, s.deps)
			s.sessions[sessionID] = session
		}
		session.touch()
		s.mu.Unlock()
	}

	session.ensureInitialized(ctx)
	return session, nil
}

// LoadTranscript returns the messages of a session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Messages(), nil
}

// SendMessage runs the send workflow on a session.
func (s *Service) SendMessage(ctx context.Context, sessionID, text string) (Result, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	return session.Send(ctx, text), nil
}

// Len reports how many sessions are live.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle drops sessions unused for longer than idle and returns how many
// were removed. A session with a send in flight is kept.
func (s *Service) EvictIdle(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, session := range s.sessions {
		if session.idleSince().After(cutoff) {
			continue
		}
		if !session.sendMu.TryLock() {
			continue
		}
		delete(s.sessions, id)
		session.sendMu.Unlock()
		evicted++
	}
	if evicted > 0 {
		s.deps.Logger.Debug().Int("evicted", evicted).Int("live", len(s.sessions)).Msg("evicted idle sessions")
	}
	return evicted
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (s *Service) RunEviction(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle(idle)
		}
	}
}
