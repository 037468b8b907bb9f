// Package history serializes conversation logs into the key-value store.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhouzirui/haven/backend/internal/model/chat"
	"github.com/zhouzirui/haven/backend/internal/store"
)

// DefaultKey is where the default conversation's log lives.
const DefaultKey = "chatHistory"

// DefaultSessionID names the conversation stored under DefaultKey.
const DefaultSessionID = "default"

// ErrCorrupt reports a stored log that could not be decoded.
var ErrCorrupt = errors.New("stored chat history is corrupt")

// KeyFor maps a session ID to its store key.
func KeyFor(sessionID string) string {
	if sessionID == "" || sessionID == DefaultSessionID {
		return DefaultKey
	}
	return DefaultKey + ":" + sessionID
}

// Repository loads and saves whole logs. It never diffs: Save overwrites.
type Repository struct {
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Load returns the log under key. An absent key yields an empty log.
func (r *Repository) Load(ctx context.Context, key string) ([]chat.Message, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return []chat.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	var messages []chat.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for i, msg := range messages {
		if !msg.Sender.Valid() {
			return nil, fmt.Errorf("%w: message %d has sender %q", ErrCorrupt, i, msg.Sender)
		}
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	return messages, nil
}

// Save writes the full log under key as a JSON array.
func (r *Repository) Save(ctx context.Context, key string, messages []chat.Message) error {
	if messages == nil {
		messages = []chat.Message{}
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := r.store.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
