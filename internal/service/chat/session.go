package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/haven/backend/internal/analysis/sentiment"
	"github.com/zhouzirui/haven/backend/internal/history"
	"github.com/zhouzirui/haven/backend/internal/metrics"
	"github.com/zhouzirui/haven/backend/internal/model/chat"
	"github.com/zhouzirui/haven/backend/internal/service/ai"
	"github.com/zhouzirui/haven/backend/internal/service/escalation"
)

const defaultGenerationTimeout = 8 * time.Second

// Deps are the collaborators shared by every session.
type Deps struct {
	History   *history.Repository
	Generator ai.Generator
	Scorer    sentiment.Scorer
	Escalator *escalation.Escalator
	Logger    zerolog.Logger
	// Timeout bounds each generation call. Expiry is treated like any other failure.
	Timeout time.Duration
}

// Result is the outcome of one send.
type Result struct {
	SessionID string         `json:"sessionId"`
	Messages  []chat.Message `json:"messages"`
	Escalated bool           `json:"escalated"`
	Skipped   bool           `json:"skipped"`
}

// Session owns one conversation log. Sends are serialized so that append
// order always matches call order.
type Session struct {
	id   string
	key  string
	deps Deps

	createdAt time.Time
	lastUsed  atomic.Int64

	// sendMu 串行化发送与加载；loaded 只在持有 sendMu 时写入。
	sendMu   sync.Mutex
	loaded   atomic.Bool
	mu       sync.RWMutex
	messages []chat.Message
}

func newSession(id string, deps Deps) *Session {
	s := &Session{
		id:        id,
		key:       history.KeyFor(id),
		deps:      deps,
		createdAt: time.Now().UTC(),
		messages:  []chat.Message{},
	}
	s.touch()
	return s
}

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

func (s *Session) idleSince() time.Time { return time.Unix(0, s.lastUsed.Load()) }

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Info describes the session for API responses.
func (s *Session) Info() chat.Session {
	return chat.Session{ID: s.id, Key: s.key, CreatedAt: s.createdAt}
}

// Initialize replaces the in-memory log with the stored one. Missing,
// unreadable or corrupt history yields an empty log; the error is only logged.
// A transient store error leaves the session unloaded, so the next send
// retries the load instead of overwriting the stored log.
func (s *Session) Initialize(ctx context.Context) []chat.Message {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	messages, ok := s.fetch(ctx)
	if messages == nil {
		messages = []chat.Message{}
	}
	s.loaded.Store(ok)

	s.mu.Lock()
	s.messages = messages
	s.mu.Unlock()

	return cloneMessages(messages)
}

func (s *Session) ensureInitialized(ctx context.Context) {
	if s.loaded.Load() {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.loadLocked(ctx)
}

// loadLocked 在未加载时读取存储，调用方须持有 sendMu。
// 加载失败期间追加的消息保留在已存储日志之后。
func (s *Session) loadLocked(ctx context.Context) {
	if s.loaded.Load() {
		return
	}
	stored, ok := s.fetch(ctx)
	if !ok {
		return
	}

	s.mu.Lock()
	s.messages = append(stored, s.messages...)
	s.mu.Unlock()
	s.loaded.Store(true)
}

// fetch reads the stored log. ok is false only for errors worth retrying;
// corrupt history counts as loaded and yields an empty log.
func (s *Session) fetch(ctx context.Context) ([]chat.Message, bool) {
	// 请求被取消不应让会话以空日志开始。
	messages, err := s.deps.History.Load(context.WithoutCancel(ctx), s.key)
	switch {
	case err == nil:
		return messages, true
	case errors.Is(err, history.ErrCorrupt):
		metrics.IncStoreError("corrupt")
		s.deps.Logger.Warn().Err(err).Str("session_id", s.id).Msg("chat history corrupt, starting empty")
		return []chat.Message{}, true
	default:
		metrics.IncStoreError("load")
		s.deps.Logger.Warn().Err(err).Str("session_id", s.id).Msg("chat history unavailable, will retry")
		return nil, false
	}
}

// Messages returns a copy of the current log in chronological order.
func (s *Session) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages)
}

// Send runs the full workflow for one user message: append and persist the
// user text, fetch a reply (or the fallback), append and persist it, then
// score the user text and escalate when it crosses the threshold.
// Blank text is a no-op.
func (s *Session) Send(ctx context.Context, text string) Result {
	if chat.IsBlank(text) {
		return Result{SessionID: s.id, Messages: s.Messages(), Skipped: true}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	defer s.touch()

	// A caller that goes away abandons the result; the log is still completed.
	ctx = context.WithoutCancel(ctx)
	s.loadLocked(ctx)

	s.persist(ctx, s.append(chat.UserMessage(text)))

	reply := s.reply(ctx, text)
	snapshot := s.append(chat.BotMessage(reply))
	s.persist(ctx, snapshot)

	escalated := false
	if s.deps.Scorer != nil && s.deps.Escalator != nil {
		score := s.deps.Scorer.Score(text)
		if s.deps.Escalator.ShouldEscalate(score) {
			escalated = true
			s.deps.Logger.Warn().Str("session_id", s.id).Float64("score", score).Msg("sentiment below threshold, escalating")
			s.deps.Escalator.Escalate(ctx, s.id)
		}
	}

	return Result{SessionID: s.id, Messages: snapshot, Escalated: escalated}
}

func (s *Session) append(msg chat.Message) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	metrics.IncMessage(string(msg.Sender))
	return cloneMessages(s.messages)
}

// persist 保存完整日志。存储尚未成功加载时不写入，避免覆盖已有历史；
// 这期间的消息留在内存中，加载成功后一并保存。
func (s *Session) persist(ctx context.Context, snapshot []chat.Message) {
	if !s.loaded.Load() {
		s.deps.Logger.Warn().Str("session_id", s.id).Msg("chat history not loaded, deferring save")
		return
	}
	if err := s.deps.History.Save(ctx, s.key, snapshot); err != nil {
		metrics.IncStoreError("save")
		s.deps.Logger.Error().Err(err).Str("session_id", s.id).Msg("failed to save chat history")
	}
}

func (s *Session) reply(ctx context.Context, text string) string {
	if s.deps.Generator == nil {
		return ai.FallbackReply
	}

	timeout := s.deps.Timeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := s.deps.Generator.Generate(genCtx, text)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("blank reply")
	}
	if err != nil {
		s.deps.Logger.Warn().Err(err).Str("session_id", s.id).Msg("generation failed, using fallback reply")
		return ai.FallbackReply
	}
	return reply
}

func cloneMessages(messages []chat.Message) []chat.Message {
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied
}
