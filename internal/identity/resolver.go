// Package identity resolves inbound credentials and registrations into
// stable actor records. The resolver carries no cryptographic logic of its
// own; minting and verifying credentials is delegated to a Signer.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/pkg/keylock"
	"github.com/webibook/analytics/internal/pkg/logger"
	"github.com/webibook/analytics/internal/store"
)

// Signer mints a credential for an actor id and recovers the actor id from
// a presented credential.
type Signer interface {
	Mint(actorID string) (string, error)
	Verify(credential string) (actorID string, err error)
}

// Resolver turns emails and credentials into actor records.
type Resolver struct {
	store  store.Store
	signer Signer
	locks  *keylock.Map
	now    func() time.Time
}

// NewResolver builds a resolver over the given store and signer. The lock
// map is shared with other components that serialize on actor emails.
func NewResolver(s store.Store, signer Signer, locks *keylock.Map) *Resolver {
	return &Resolver{store: s, signer: signer, locks: locks, now: time.Now}
}

// Register creates or refreshes the actor for email. Returns the actor and
// whether it was newly created. A malformed email is rejected with
// domain.ErrInvalidInput.
func (r *Resolver) Register(ctx context.Context, email string, client domain.ClientContext) (*domain.Actor, bool, error) {
	email = domain.NormalizeEmail(email)
	if !domain.ValidEmail(email) {
		return nil, false, fmt.Errorf("register email %q: %w", email, domain.ErrInvalidInput)
	}

	release := r.locks.Lock("actor:" + email)
	defer release()

	now := r.now().UTC()
	actor, err := r.store.GetActor(ctx, email)
	switch {
	case err == nil:
		actor.VisitCount++
		actor.LastSeenAt = now
		actor.Device = deviceSnapshot(client)
		if err := r.store.UpsertActor(ctx, actor); err != nil {
			return nil, false, fmt.Errorf("refreshing actor: %w", err)
		}
		return actor, false, nil

	case errors.Is(err, domain.ErrNotFound):
		actor = &domain.Actor{
			ID:          uuid.NewString(),
			Email:       email,
			Name:        nameFromEmail(email),
			SavedEvents: []domain.SavedEvent{},
			Device:      deviceSnapshot(client),
			VisitCount:  1,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		if err := r.store.UpsertActor(ctx, actor); err != nil {
			return nil, false, fmt.Errorf("creating actor: %w", err)
		}
		logger.Info("registered new actor", "email", email, "actor_id", actor.ID)
		return actor, true, nil

	default:
		return nil, false, fmt.Errorf("looking up actor: %w", err)
	}
}

// ResolveFromCredential verifies the credential and loads the bound actor.
// An absent, malformed, or unverifiable credential resolves to (nil, nil):
// callers treat that as anonymous, never as an error, so anonymous
// engagement tracking keeps working.
func (r *Resolver) ResolveFromCredential(ctx context.Context, credential string) (*domain.Actor, error) {
	if credential == "" {
		return nil, nil
	}
	actorID, err := r.signer.Verify(credential)
	if err != nil {
		logger.Debug("credential rejected", "error", err.Error())
		return nil, nil
	}
	actor, err := r.store.GetActorByID(ctx, actorID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading actor for credential: %w", err)
	}
	return actor, nil
}

// MintCredential issues a credential binding the actor's id.
func (r *Resolver) MintCredential(actor *domain.Actor) (string, error) {
	return r.signer.Mint(actor.ID)
}

func deviceSnapshot(client domain.ClientContext) domain.DeviceSnapshot {
	return domain.DeviceSnapshot{
		DeviceType: client.DeviceType,
		UserAgent:  client.UserAgent,
		Country:    client.Country,
		Region:     client.Region,
		City:       client.City,
	}
}

// nameFromEmail derives a display name from the local part of the email;
// registration carries no separate name field.
func nameFromEmail(email string) string {
	for i := 0; i < len(email); i++ {
		if email[i] == '@' {
			return email[:i]
		}
	}
	return email
}
