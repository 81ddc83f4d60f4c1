package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
)

type memoryEntry struct {
	value     []byte
	members   map[string]struct{}
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is the process-local fallback. One mutex guards the whole map,
// which keeps every operation atomic for goroutines in this process only.
// State is lost on restart and is not visible to other processes.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memoryEntry
	clock clock.Clock
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{
		items: make(map[string]*memoryEntry),
		clock: c,
	}
}

// lookup returns a live entry, dropping it if it has expired. Caller holds mu.
func (m *MemoryStore) lookup(key string) (*memoryEntry, bool) {
	e, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.clock.Now()) {
		delete(m.items, key)
		return nil, false
	}
	return e, true
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = &memoryEntry{value: buf, expiresAt: m.deadline(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.members != nil {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryStore) Replace(_ context.Context, key string, value []byte) (bool, error) {
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.members != nil {
		return false, nil
	}
	e.value = buf
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); !ok {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		m.items[key] = &memoryEntry{value: []byte("1"), expiresAt: m.deadline(ttl)}
		return 1, nil
	}

	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (m *MemoryStore) AddMember(_ context.Context, setKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(setKey)
	if !ok || e.members == nil {
		e = &memoryEntry{members: make(map[string]struct{})}
		m.items[setKey] = e
	}
	e.members[member] = struct{}{}
	return nil
}

func (m *MemoryStore) Members(_ context.Context, setKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(setKey)
	if !ok || e.members == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(e.members))
	for member := range e.members {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryStore) RemoveMember(_ context.Context, setKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(setKey)
	if !ok || e.members == nil {
		return nil
	}
	delete(e.members, member)
	if len(e.members) == 0 {
		delete(m.items, setKey)
	}
	return nil
}

func (m *MemoryStore) ExtendTTL(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return false, nil
	}
	e.expiresAt = m.deadline(ttl)
	return true, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// PurgeExpired drops every expired entry and returns how many were removed.
func (m *MemoryStore) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, e := range m.items {
		if e.expired(now) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	n := 0
	for _, e := range m.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}
