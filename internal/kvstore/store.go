// Package kvstore is the TTL-capable key/value tier behind sessions and lockouts.
//
// Two implementations satisfy the same contract: RedisStore for deployments that
// share state across processes, and MemoryStore for single-process fallback. An
// expired key always reads as absent regardless of how the backend expires it.
// Keys hold either a value or a set, never both.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get for absent or expired keys.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// Store is the contract shared by every backend. A ttl <= 0 means no expiry.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Replace overwrites an existing value and keeps its remaining expiry. It
	// reports false, writing nothing, when the key is absent or expired.
	Replace(ctx context.Context, key string, value []byte) (bool, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Incr atomically increments an integer counter. ttl is applied only when
	// the increment creates the key, so the window starts at the first hit.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	AddMember(ctx context.Context, setKey, member string) error
	Members(ctx context.Context, setKey string) ([]string, error)
	RemoveMember(ctx context.Context, setKey, member string) error

	// ExtendTTL resets the expiry of an existing key and reports whether it existed.
	ExtendTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Purger is implemented by stores holding process-local state that benefits
// from active expiry in addition to lazy expiry on read.
type Purger interface {
	PurgeExpired() int
}
