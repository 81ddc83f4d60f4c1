package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/redis/go-redis/v9"
)

// incrScript increments a counter and starts its window on first hit.
// Running INCR and PEXPIRE in one script keeps the pair atomic.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// replaceScript overwrites a string key in place. KEEPTTL leaves the
// remaining expiry untouched; absent keys and sets are left alone.
var replaceScript = redis.NewScript(`
if redis.call('TYPE', KEYS[1]).ok ~= 'string' then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
return 1
`)

// RedisStore is the shared networked backend.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Keys are stored as prefix+key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis parses a redis:// URL, connects and verifies the connection with PING.
func DialRedis(ctx context.Context, url string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// wrap maps redis.Nil and type mismatches to ErrKeyNotFound and everything
// else to ErrBackendUnavailable. A value read of a set key is a miss, as it
// is for MemoryStore.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) || isWrongType(err) {
		return ErrKeyNotFound
	}
	return fmt.Errorf("redis %s: %w: %w", op, models.ErrBackendUnavailable, err)
}

func isWrongType(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "WRONGTYPE")
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrap("set", s.client.Set(ctx, s.key(key), value, ttl).Err())
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		return nil, wrap("get", err)
	}
	return val, nil
}

func (s *RedisStore) Replace(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := replaceScript.Run(ctx, s.client, []string{s.key(key)}, value).Int64()
	if err != nil {
		return false, wrap("replace", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, wrap("del", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, wrap("incr", err)
	}
	return n, nil
}

func (s *RedisStore) AddMember(ctx context.Context, setKey, member string) error {
	return wrap("sadd", s.client.SAdd(ctx, s.key(setKey), member).Err())
}

func (s *RedisStore) Members(ctx context.Context, setKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key(setKey)).Result()
	if err != nil {
		return nil, wrap("smembers", err)
	}
	return members, nil
}

func (s *RedisStore) RemoveMember(ctx context.Context, setKey, member string) error {
	return wrap("srem", s.client.SRem(ctx, s.key(setKey), member).Err())
}

func (s *RedisStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		// PERSIST reports false for a key that exists without a TTL.
		if err := s.client.Persist(ctx, s.key(key)).Err(); err != nil {
			return false, wrap("persist", err)
		}
		n, err := s.client.Exists(ctx, s.key(key)).Result()
		if err != nil {
			return false, wrap("exists", err)
		}
		return n > 0, nil
	}
	ok, err := s.client.PExpire(ctx, s.key(key), ttl).Result()
	if err != nil {
		return false, wrap("pexpire", err)
	}
	return ok, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
