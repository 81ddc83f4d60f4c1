package kvstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
)

// Backend modes reported by Open.
const (
	ModeMemory        = "memory"
	ModeRedis         = "redis"
	ModeRedisFallback = "redis+memory-fallback"
)

// Options controls backend selection at startup.
type Options struct {
	URL             string
	Prefix          string
	DialTimeout     time.Duration
	FallbackOnError bool
	Clock           clock.Clock
	Logger          *slog.Logger
	OnFallback      func(op string)
}

// Open selects the backend once. With no URL, or when the primary cannot be
// reached, the process runs on the in-memory store for its whole lifetime.
func Open(ctx context.Context, opts Options) (Store, string) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.URL == "" {
		logger.Info("no store url configured, using in-memory store")
		return NewMemoryStore(opts.Clock), ModeMemory
	}

	client, err := DialRedis(ctx, opts.URL, opts.DialTimeout)
	if err != nil {
		logger.Warn("store unavailable at startup, using in-memory store", slog.Any("error", err))
		return NewMemoryStore(opts.Clock), ModeMemory
	}

	primary := NewRedisStore(client, opts.Prefix)
	if !opts.FallbackOnError {
		logger.Info("store connected", slog.String("mode", ModeRedis))
		return primary, ModeRedis
	}

	logger.Info("store connected", slog.String("mode", ModeRedisFallback))
	return NewFallbackStore(primary, NewMemoryStore(opts.Clock), logger, opts.OnFallback), ModeRedisFallback
}
