package visit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRegistry answers exactly one question: has this session id been
// observed before? Observe marks it seen and reports whether this was the
// first observation, atomically.
type SessionRegistry interface {
	Observe(ctx context.Context, sessionID string) (first bool, err error)
}

// NewSessionRegistry picks the best available backend: Redis when a client
// is configured (first-seen across instances via SETNX), an in-process map
// otherwise.
func NewSessionRegistry(client *redis.Client, ttl time.Duration) SessionRegistry {
	if client != nil {
		return &redisRegistry{client: client, ttl: ttl}
	}
	return newMemoryRegistry()
}

type redisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func (r *redisRegistry) Observe(ctx context.Context, sessionID string) (bool, error) {
	first, err := r.client.SetNX(ctx, "session:"+sessionID, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking session %s: %w", sessionID, err)
	}
	return first, nil
}

// memoryRegistry keeps seen ids in a bounded map. When the cap is reached
// the oldest generation is dropped wholesale; a very old session re-pinging
// after eviction is reclassified as new, which matches what session-cookie
// expiry does anyway.
type memoryRegistry struct {
	mu       sync.Mutex
	current  map[string]struct{}
	previous map[string]struct{}
	maxSize  int
}

const defaultRegistryCap = 100_000

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{
		current:  make(map[string]struct{}),
		previous: make(map[string]struct{}),
		maxSize:  defaultRegistryCap,
	}
}

func (m *memoryRegistry) Observe(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.current[sessionID]; ok {
		return false, nil
	}
	if _, ok := m.previous[sessionID]; ok {
		// Promote so it survives the next rotation.
		m.current[sessionID] = struct{}{}
		return false, nil
	}

	if len(m.current) >= m.maxSize {
		m.previous = m.current
		m.current = make(map[string]struct{})
	}
	m.current[sessionID] = struct{}{}
	return true, nil
}
