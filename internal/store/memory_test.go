package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webibook/analytics/internal/domain"
)

func testActor(email string) *domain.Actor {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Actor{
		ID:          "id-" + email,
		Email:       email,
		Name:        "tester",
		SavedEvents: []domain.SavedEvent{},
		VisitCount:  1,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
}

func TestMemoryActorRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetActor(ctx, "a@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, m.UpsertActor(ctx, testActor("a@example.com")))

	got, err := m.GetActor(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	byID, err := m.GetActorByID(ctx, "id-a@example.com")
	require.NoError(t, err)
	assert.Equal(t, got.Email, byID.Email)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := testActor("a@example.com")
	a.SavedEvents = []domain.SavedEvent{{EventID: "e1"}}
	require.NoError(t, m.UpsertActor(ctx, a))

	got, err := m.GetActor(ctx, "a@example.com")
	require.NoError(t, err)
	got.SavedEvents[0].EventID = "mutated"
	got.VisitCount = 99

	fresh, err := m.GetActor(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "e1", fresh.SavedEvents[0].EventID)
	assert.Equal(t, 1, fresh.VisitCount)
}

func TestMemoryAddEventCountsClampsAtZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertEvent(ctx, &domain.Event{ID: "e1", Title: "Talk"}))

	require.NoError(t, m.AddEventCounts(ctx, "e1", 2, 1))
	require.NoError(t, m.AddEventCounts(ctx, "e1", -5, 0))

	e, err := m.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, e.SavedCount)
	assert.Equal(t, 1, e.ClickCount)

	err = m.AddEventCounts(ctx, "missing", 1, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryAggregatesAreDeepCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := testActor("a@example.com")
	a.SavedEvents = []domain.SavedEvent{{EventID: "e1"}}
	require.NoError(t, m.UpsertActor(ctx, a))
	require.NoError(t, m.UpsertEvent(ctx, &domain.Event{ID: "e1"}))
	require.NoError(t, m.AppendVisit(ctx, &domain.VisitRecord{ID: "v1", SessionID: "s1"}))

	set, err := m.Aggregates(ctx)
	require.NoError(t, err)
	set.Actors[0].SavedEvents[0].EventID = "mutated"
	set.Events[0].SavedCount = 42
	set.Visits[0].SessionID = "mutated"

	fresh, err := m.Aggregates(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", fresh.Actors[0].SavedEvents[0].EventID)
	assert.Equal(t, 0, fresh.Events[0].SavedCount)
	assert.Equal(t, "s1", fresh.Visits[0].SessionID)
}

func TestMemorySubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetSubscription(ctx, "a@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sub := &domain.EmailSubscription{Email: "a@example.com", Active: true, Source: "site"}
	require.NoError(t, m.UpsertSubscription(ctx, sub))

	got, err := m.GetSubscription(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, got.Active)

	subs, err := m.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestMemoryErrorsMaskEmails(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetActor(ctx, "jane.roe@example.com")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "jane.roe@example.com")
	assert.Contains(t, err.Error(), "ja***@example.com")
}
