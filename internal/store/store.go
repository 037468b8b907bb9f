// Package store provides the key-value persistence behind chat history.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/haven/backend/internal/config"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// Store is a string key-value store. Set overwrites the whole value.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Open connects the backend selected by cfg.Driver. The returned close func
// is always non-nil.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), noop, nil
	case "sqlite":
		s, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case "redis":
		s, err := NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
