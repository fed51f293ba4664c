package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webibook/analytics/internal/domain"
)

// flakyStore wraps a Memory and starts failing every call once tripped,
// standing in for a DynamoDB outage.
type flakyStore struct {
	*Memory
	failing bool
}

var errBackend = errors.New("backend unavailable")

func (f *flakyStore) guard() error {
	if f.failing {
		return errBackend
	}
	return nil
}

func (f *flakyStore) GetActor(ctx context.Context, email string) (*domain.Actor, error) {
	if err := f.guard(); err != nil {
		return nil, err
	}
	return f.Memory.GetActor(ctx, email)
}

func (f *flakyStore) UpsertActor(ctx context.Context, actor *domain.Actor) error {
	if err := f.guard(); err != nil {
		return err
	}
	return f.Memory.UpsertActor(ctx, actor)
}

func (f *flakyStore) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	if err := f.guard(); err != nil {
		return nil, err
	}
	return f.Memory.GetEvent(ctx, eventID)
}

func (f *flakyStore) AddEventCounts(ctx context.Context, eventID string, savedDelta, clickDelta int) error {
	if err := f.guard(); err != nil {
		return err
	}
	return f.Memory.AddEventCounts(ctx, eventID, savedDelta, clickDelta)
}

func TestFailoverMirrorsWritesBeforeDegrading(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{Memory: NewMemory()}
	f := NewFailover(primary, NewMemory())

	// Write while healthy, then kill the primary.
	require.NoError(t, f.UpsertActor(ctx, testActor("a@example.com")))
	primary.failing = true

	// The read fails over and still sees the earlier acknowledged write.
	got, err := f.GetActor(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
	assert.True(t, f.Degraded())
}

func TestFailoverDegradationIsOneWay(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{Memory: NewMemory()}
	f := NewFailover(primary, NewMemory())

	primary.failing = true
	require.NoError(t, f.UpsertActor(ctx, testActor("a@example.com")))
	assert.True(t, f.Degraded())

	// Primary recovers, but the process stays on the fallback; the write
	// above must remain visible.
	primary.failing = false
	got, err := f.GetActor(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = primary.Memory.GetActor(ctx, "a@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailoverInFlightWriteRetriedOnFallback(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{Memory: NewMemory(), failing: true}
	f := NewFailover(primary, NewMemory())

	// The very first write hits the outage and must still be acknowledged.
	require.NoError(t, f.UpsertActor(ctx, testActor("a@example.com")))
	assert.True(t, f.Degraded())

	got, err := f.GetActor(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
}

func TestFailoverDomainErrorsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{Memory: NewMemory()}
	f := NewFailover(primary, NewMemory())

	_, err := f.GetActor(ctx, "missing@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, f.Degraded())

	err = f.AddEventCounts(ctx, "no-such-event", 1, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, f.Degraded())
}

// An event that exists only in the primary (seeded or self-healed in an
// earlier process run) must not fail an acknowledged counter write; the
// fallback is healed from the primary instead.
func TestFailoverCounterWriteOnPreexistingEvent(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{Memory: NewMemory()}
	fallback := NewMemory()
	require.NoError(t, primary.Memory.UpsertEvent(ctx, &domain.Event{ID: "old-event", Title: "Old Event"}))
	f := NewFailover(primary, fallback)

	require.NoError(t, f.AddEventCounts(ctx, "old-event", 0, 1))
	assert.False(t, f.Degraded())

	got, err := primary.Memory.GetEvent(ctx, "old-event")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ClickCount)

	// The fallback picked up the event, counter included, so reads after a
	// later outage still find it.
	primary.failing = true
	got, err = f.GetEvent(ctx, "old-event")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ClickCount)
	assert.True(t, f.Degraded())
}
