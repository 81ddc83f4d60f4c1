package kvstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/tradergate/internal/models"
)

// FallbackStore serves each call from the primary and silently degrades to the
// in-process store when the primary reports ErrBackendUnavailable. Writes that
// land in the fallback are not replayed once the primary recovers.
type FallbackStore struct {
	primary    Store
	fallback   *MemoryStore
	logger     *slog.Logger
	onFallback func(op string)
}

// NewFallbackStore combines a primary with an in-process fallback.
// onFallback, if non-nil, is invoked once per degraded call (metrics hook).
func NewFallbackStore(primary Store, fallback *MemoryStore, logger *slog.Logger, onFallback func(op string)) *FallbackStore {
	return &FallbackStore{
		primary:    primary,
		fallback:   fallback,
		logger:     logger,
		onFallback: onFallback,
	}
}

func (f *FallbackStore) degraded(op string, err error) bool {
	if !errors.Is(err, models.ErrBackendUnavailable) {
		return false
	}
	f.logger.Warn("store primary unavailable, serving from memory",
		slog.String("op", op),
		slog.Any("error", err))
	if f.onFallback != nil {
		f.onFallback(op)
	}
	return true
}

func (f *FallbackStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := f.primary.Put(ctx, key, value, ttl)
	if f.degraded("put", err) {
		return f.fallback.Put(ctx, key, value, ttl)
	}
	return err
}

func (f *FallbackStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := f.primary.Get(ctx, key)
	if f.degraded("get", err) {
		return f.fallback.Get(ctx, key)
	}
	return val, err
}

func (f *FallbackStore) Replace(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := f.primary.Replace(ctx, key, value)
	if f.degraded("replace", err) {
		return f.fallback.Replace(ctx, key, value)
	}
	return ok, err
}

func (f *FallbackStore) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := f.primary.Delete(ctx, key)
	if f.degraded("delete", err) {
		return f.fallback.Delete(ctx, key)
	}
	return ok, err
}

func (f *FallbackStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := f.primary.Incr(ctx, key, ttl)
	if f.degraded("incr", err) {
		return f.fallback.Incr(ctx, key, ttl)
	}
	return n, err
}

func (f *FallbackStore) AddMember(ctx context.Context, setKey, member string) error {
	err := f.primary.AddMember(ctx, setKey, member)
	if f.degraded("add_member", err) {
		return f.fallback.AddMember(ctx, setKey, member)
	}
	return err
}

func (f *FallbackStore) Members(ctx context.Context, setKey string) ([]string, error) {
	members, err := f.primary.Members(ctx, setKey)
	if f.degraded("members", err) {
		return f.fallback.Members(ctx, setKey)
	}
	return members, err
}

func (f *FallbackStore) RemoveMember(ctx context.Context, setKey, member string) error {
	err := f.primary.RemoveMember(ctx, setKey, member)
	if f.degraded("remove_member", err) {
		return f.fallback.RemoveMember(ctx, setKey, member)
	}
	return err
}

func (f *FallbackStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := f.primary.ExtendTTL(ctx, key, ttl)
	if f.degraded("extend_ttl", err) {
		return f.fallback.ExtendTTL(ctx, key, ttl)
	}
	return ok, err
}

// Ping reports the primary's health; the fallback is always reachable.
func (f *FallbackStore) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

func (f *FallbackStore) Close() error {
	return f.primary.Close()
}

func (f *FallbackStore) PurgeExpired() int {
	return f.fallback.PurgeExpired()
}
