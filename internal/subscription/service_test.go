package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/pkg/keylock"
	"github.com/webibook/analytics/internal/store"
)

func newService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	return NewService(m, keylock.New()), m
}

func TestSubscribeCreatesActiveRecord(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t)

	require.NoError(t, s.Subscribe(ctx, " Jane@Example.COM", "site"))

	sub, err := m.GetSubscription(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, "site", sub.Source)
	assert.False(t, sub.SubscribedAt.IsZero())
	assert.Nil(t, sub.UnsubscribedAt)
}

func TestSubscribeIdempotent(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t)

	require.NoError(t, s.Subscribe(ctx, "jane@example.com", "site"))
	first, err := m.GetSubscription(ctx, "jane@example.com")
	require.NoError(t, err)

	require.NoError(t, s.Subscribe(ctx, "jane@example.com", "footer"))
	second, err := m.GetSubscription(ctx, "jane@example.com")
	require.NoError(t, err)

	// Re-subscribing an active record is a pure no-op.
	assert.Equal(t, first.SubscribedAt, second.SubscribedAt)
	assert.Equal(t, "site", second.Source)
}

func TestUnsubscribeStampsAndKeepsRecord(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t)

	require.NoError(t, s.Subscribe(ctx, "jane@example.com", "site"))
	require.NoError(t, s.Unsubscribe(ctx, "jane@example.com"))

	sub, err := m.GetSubscription(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.False(t, sub.Active)
	require.NotNil(t, sub.UnsubscribedAt)

	// A second unsubscribe is a no-op: the stamp does not move.
	stamp := *sub.UnsubscribedAt
	time.Sleep(time.Millisecond)
	require.NoError(t, s.Unsubscribe(ctx, "jane@example.com"))
	sub, err = m.GetSubscription(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, stamp, *sub.UnsubscribedAt)
}

func TestUnsubscribeUnknownEmailIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t)

	require.NoError(t, s.Unsubscribe(ctx, "ghost@example.com"))

	subs, err := m.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestResubscribeReactivates(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t)

	require.NoError(t, s.Subscribe(ctx, "jane@example.com", "site"))
	require.NoError(t, s.Unsubscribe(ctx, "jane@example.com"))
	require.NoError(t, s.Subscribe(ctx, "jane@example.com", "winback"))

	sub, err := m.GetSubscription(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Nil(t, sub.UnsubscribedAt)
	assert.Equal(t, "winback", sub.Source)
}

func TestSubscribeRejectsMalformedEmail(t *testing.T) {
	s, _ := newService(t)
	err := s.Subscribe(context.Background(), "not-an-email", "site")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = s.Unsubscribe(context.Background(), "@nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
