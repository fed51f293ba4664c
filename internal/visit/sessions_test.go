package visit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRegistry(t *testing.T) SessionRegistry {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSessionRegistry(client, time.Hour)
}

// Both backends must answer the first-seen question identically.
func TestRegistryFirstSeenParity(t *testing.T) {
	registries := map[string]SessionRegistry{
		"memory": NewSessionRegistry(nil, time.Hour),
		"redis":  newRedisRegistry(t),
	}

	for name, reg := range registries {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := reg.Observe(ctx, "sess-1")
			require.NoError(t, err)
			assert.True(t, first)

			first, err = reg.Observe(ctx, "sess-1")
			require.NoError(t, err)
			assert.False(t, first)

			first, err = reg.Observe(ctx, "sess-2")
			require.NoError(t, err)
			assert.True(t, first)
		})
	}
}

func TestMemoryRegistryRotationKeepsRecentSessions(t *testing.T) {
	reg := newMemoryRegistry()
	reg.maxSize = 3
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		first, err := reg.Observe(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
		assert.True(t, first)
	}

	// Cap reached; the next new id rotates generations.
	first, err := reg.Observe(ctx, "sess-3")
	require.NoError(t, err)
	assert.True(t, first)

	// Rotated-out ids are still known via the previous generation.
	first, err = reg.Observe(ctx, "sess-0")
	require.NoError(t, err)
	assert.False(t, first)
}

func TestRedisRegistryExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	reg := NewSessionRegistry(client, time.Minute)
	ctx := context.Background()

	first, err := reg.Observe(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, first)

	// After the TTL lapses the id counts as new again, matching what
	// session-cookie expiry does on the client side.
	mr.FastForward(2 * time.Minute)

	first, err = reg.Observe(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, first)
}
