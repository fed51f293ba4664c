package engagement

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/pkg/keylock"
	"github.com/webibook/analytics/internal/store"
)

func setup(t *testing.T) (*Aggregator, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.UpsertEvent(ctx, &domain.Event{ID: "go-talk", Title: "Go Talk"}))
	require.NoError(t, m.UpsertEvent(ctx, &domain.Event{ID: "db-talk", Title: "DB Talk"}))
	require.NoError(t, m.UpsertActor(ctx, &domain.Actor{
		ID:          "actor-1",
		Email:       "a@example.com",
		SavedEvents: []domain.SavedEvent{},
		VisitCount:  1,
	}))

	return New(m, keylock.New()), m
}

func TestSaveEventIdempotent(t *testing.T) {
	ctx := context.Background()
	agg, m := setup(t)

	set, err := agg.SaveEvent(ctx, "a@example.com", "go-talk")
	require.NoError(t, err)
	assert.Len(t, set, 1)

	// Saving again changes nothing.
	set, err = agg.SaveEvent(ctx, "a@example.com", "go-talk")
	require.NoError(t, err)
	assert.Len(t, set, 1)

	e, err := m.GetEvent(ctx, "go-talk")
	require.NoError(t, err)
	assert.Equal(t, 1, e.SavedCount)
}

func TestSaveEventUnknownEventRejected(t *testing.T) {
	ctx := context.Background()
	agg, m := setup(t)

	_, err := agg.SaveEvent(ctx, "a@example.com", "no-such-event")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Save must never create catalog entries.
	_, err = m.GetEvent(ctx, "no-such-event")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveEventEmptyIDRejected(t *testing.T) {
	agg, _ := setup(t)
	_, err := agg.SaveEvent(context.Background(), "a@example.com", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUnsaveEventSymmetry(t *testing.T) {
	ctx := context.Background()
	agg, m := setup(t)

	_, err := agg.SaveEvent(ctx, "a@example.com", "go-talk")
	require.NoError(t, err)
	_, err = agg.SaveEvent(ctx, "a@example.com", "db-talk")
	require.NoError(t, err)

	set, err := agg.UnsaveEvent(ctx, "a@example.com", "go-talk")
	require.NoError(t, err)
	assert.Equal(t, []string{"db-talk"}, savedIDs(set))

	e, err := m.GetEvent(ctx, "go-talk")
	require.NoError(t, err)
	assert.Equal(t, 0, e.SavedCount)

	// Unsaving an absent entry is a no-op, and the counter stays clamped.
	set, err = agg.UnsaveEvent(ctx, "a@example.com", "go-talk")
	require.NoError(t, err)
	assert.Equal(t, []string{"db-talk"}, savedIDs(set))

	e, err = m.GetEvent(ctx, "go-talk")
	require.NoError(t, err)
	assert.Equal(t, 0, e.SavedCount)
}

func TestConcurrentSavesCountOnce(t *testing.T) {
	ctx := context.Background()
	agg, m := setup(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.SaveEvent(ctx, "a@example.com", "go-talk")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	e, err := m.GetEvent(ctx, "go-talk")
	require.NoError(t, err)
	assert.Equal(t, 1, e.SavedCount)

	actor, err := m.GetActor(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Len(t, actor.SavedEvents, 1)
}

func TestRecordClickKnownEvent(t *testing.T) {
	ctx := context.Background()
	agg, m := setup(t)

	actor, err := m.GetActor(ctx, "a@example.com")
	require.NoError(t, err)

	err = agg.RecordClick(ctx, "go-talk", "", "", actor, "sess-1", domain.ClientContext{IPAddress: "203.0.113.9"})
	require.NoError(t, err)

	e, err := m.GetEvent(ctx, "go-talk")
	require.NoError(t, err)
	assert.Equal(t, 1, e.ClickCount)

	set, err := m.Aggregates(ctx)
	require.NoError(t, err)
	require.Len(t, set.Clicks, 1)
	assert.Equal(t, "actor-1", set.Clicks[0].ActorID)
	assert.Equal(t, "sess-1", set.Clicks[0].SessionID)
}

func TestRecordClickSelfHealsCatalog(t *testing.T) {
	ctx := context.Background()
	agg, m := setup(t)

	err := agg.RecordClick(ctx, "surprise-talk", "Surprise Talk", "misc", nil, "", domain.ClientContext{})
	require.NoError(t, err)

	e, err := m.GetEvent(ctx, "surprise-talk")
	require.NoError(t, err)
	assert.Equal(t, "Surprise Talk", e.Title)
	assert.Equal(t, 1, e.ClickCount)
	assert.Equal(t, 0, e.SavedCount)
}

func TestRecordClickEmptyIDRejected(t *testing.T) {
	agg, m := setup(t)

	err := agg.RecordClick(context.Background(), "", "", "", nil, "", domain.ClientContext{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	set, err := m.Aggregates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, set.Clicks)
}

// Interleaved saves and unsaves from two actors against one event must end
// with counters that match the surviving saved sets.
func TestSaveUnsaveInterleaving(t *testing.T) {
	ctx := context.Background()
	agg, m := setup(t)

	require.NoError(t, m.UpsertActor(ctx, &domain.Actor{
		ID:          "actor-2",
		Email:       "b@example.com",
		SavedEvents: []domain.SavedEvent{},
	}))

	_, err := agg.SaveEvent(ctx, "a@example.com", "go-talk")
	require.NoError(t, err)
	_, err = agg.SaveEvent(ctx, "b@example.com", "go-talk")
	require.NoError(t, err)
	_, err = agg.UnsaveEvent(ctx, "a@example.com", "go-talk")
	require.NoError(t, err)

	e, err := m.GetEvent(ctx, "go-talk")
	require.NoError(t, err)
	assert.Equal(t, 1, e.SavedCount)

	b, err := m.GetActor(ctx, "b@example.com")
	require.NoError(t, err)
	assert.True(t, b.HasSaved("go-talk"))
	a, err := m.GetActor(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, a.HasSaved("go-talk"))
}

func savedIDs(set []domain.SavedEvent) []string {
	ids := make([]string, 0, len(set))
	for _, s := range set {
		ids = append(ids, s.EventID)
	}
	return ids
}
