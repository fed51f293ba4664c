// Package subscription manages weekly-email signups. Subscribe and
// unsubscribe are both idempotent; records are never deleted.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/pkg/keylock"
	"github.com/webibook/analytics/internal/pkg/logger"
	"github.com/webibook/analytics/internal/store"
)

// Service owns subscription state transitions.
type Service struct {
	store store.Store
	locks *keylock.Map
	now   func() time.Time
}

// NewService builds the subscription service.
func NewService(s store.Store, locks *keylock.Map) *Service {
	return &Service{store: s, locks: locks, now: time.Now}
}

// Subscribe activates a subscription for email. Re-subscribing an already
// active record is a no-op; a previously unsubscribed record is
// reactivated with a fresh SubscribedAt.
func (s *Service) Subscribe(ctx context.Context, email, source string) error {
	email = domain.NormalizeEmail(email)
	if !domain.ValidEmail(email) {
		return fmt.Errorf("subscribe email %q: %w", email, domain.ErrInvalidInput)
	}

	release := s.locks.Lock("sub:" + email)
	defer release()

	sub, err := s.store.GetSubscription(ctx, email)
	switch {
	case err == nil:
		if sub.Active {
			return nil
		}
		sub.Active = true
		sub.SubscribedAt = s.now().UTC()
		sub.UnsubscribedAt = nil
		if source != "" {
			sub.Source = source
		}

	case errors.Is(err, domain.ErrNotFound):
		sub = &domain.EmailSubscription{
			Email:        email,
			Active:       true,
			Source:       source,
			SubscribedAt: s.now().UTC(),
		}
		logger.Info("new email subscription", "email", email, "source", source)

	default:
		return fmt.Errorf("looking up subscription: %w", err)
	}

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("persisting subscription: %w", err)
	}
	return nil
}

// Unsubscribe deactivates the subscription and stamps UnsubscribedAt. An
// unknown or already inactive email is a no-op.
func (s *Service) Unsubscribe(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if !domain.ValidEmail(email) {
		return fmt.Errorf("unsubscribe email %q: %w", email, domain.ErrInvalidInput)
	}

	release := s.locks.Lock("sub:" + email)
	defer release()

	sub, err := s.store.GetSubscription(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up subscription: %w", err)
	}
	if !sub.Active {
		return nil
	}

	now := s.now().UTC()
	sub.Active = false
	sub.UnsubscribedAt = &now
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("persisting unsubscribe: %w", err)
	}
	return nil
}
