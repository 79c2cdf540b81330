package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/parley-ai/parley/internal/port/cache"
	"github.com/parley-ai/parley/internal/port/promptstore"
)

// CachedStore decorates a prompt store with a byte cache so turn iterations
// do not hit Postgres for the system prompt. Cache failures degrade to
// direct reads. Selection changes must call Invalidate; prompt content
// edits propagate when the cached entry expires.
type CachedStore struct {
	inner promptstore.Store
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedStore wraps inner with the given cache and entry TTL.
func NewCachedStore(inner promptstore.Store, c cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, cache: c, ttl: ttl}
}

// GetSelectedPromptContent returns the cached prompt content for the user,
// falling through to the inner store on miss. Empty selections are cached
// too, so users on the default prompt don't query Postgres every turn.
func (s *CachedStore) GetSelectedPromptContent(ctx context.Context, userID string) (string, error) {
	key := cache.Key("prompt", userID)

	val, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("prompt cache read failed", "error", err)
	} else if ok {
		return string(val), nil
	}

	content, err := s.inner.GetSelectedPromptContent(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := s.cache.Set(ctx, key, []byte(content), s.ttl); err != nil {
		slog.Warn("prompt cache write failed", "error", err)
	}
	return content, nil
}

// Invalidate drops the cached prompt for a user. Called after the user's
// selection changes.
func (s *CachedStore) Invalidate(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, cache.Key("prompt", userID)); err != nil {
		slog.Warn("prompt cache invalidate failed", "error", err)
	}
}
