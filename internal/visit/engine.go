// Package visit records visit events, classifies sessions as new or
// returning, and derives retention and activity statistics.
package visit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/pkg/keylock"
	"github.com/webibook/analytics/internal/store"
)

// Engine is the visit/retention component.
type Engine struct {
	store    store.Store
	sessions SessionRegistry
	locks    *keylock.Map
	now      func() time.Time
}

// NewEngine builds the engine. The lock map is shared with the other
// actor-mutating components.
func NewEngine(s store.Store, sessions SessionRegistry, locks *keylock.Map) *Engine {
	return &Engine{store: s, sessions: sessions, locks: locks, now: time.Now}
}

// TrackVisit records one visit ping and returns the session id (minted if
// absent) and the new/returning classification.
//
// A session is new the first time the engine observes its id; every later
// ping with the same id is returning no matter what the caller claims. The
// caller-supplied returningHint is advisory and only consulted for the
// first-seen case, where an explicit "returning" claim is honored (the
// registry may simply have never seen a long-lived cookie).
func (e *Engine) TrackVisit(ctx context.Context, sessionID string, returningHint *bool, actor *domain.Actor, client domain.ClientContext) (string, bool, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	first, err := e.sessions.Observe(ctx, sessionID)
	if err != nil {
		return "", false, fmt.Errorf("tracking visit: %w", err)
	}
	isNew := first
	if first && returningHint != nil && *returningHint {
		isNew = false
	}

	now := e.now().UTC()
	rec := &domain.VisitRecord{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		IsNewSession: isNew,
		Client:       client,
		CreatedAt:    now,
	}
	if actor != nil {
		rec.ActorID = actor.ID
	}
	if err := e.store.AppendVisit(ctx, rec); err != nil {
		return "", false, fmt.Errorf("appending visit record: %w", err)
	}

	if actor != nil {
		release := e.locks.Lock("actor:" + actor.Email)
		fresh, err := e.store.GetActor(ctx, actor.Email)
		if err == nil {
			fresh.VisitCount++
			fresh.LastSeenAt = now
			if client.UserAgent != "" {
				fresh.Device.UserAgent = client.UserAgent
				fresh.Device.DeviceType = client.DeviceType
			}
			err = e.store.UpsertActor(ctx, fresh)
		}
		release()
		if err != nil {
			// The visit record is already appended; hand the session id
			// back so a retry does not mint a second session.
			return sessionID, isNew, fmt.Errorf("refreshing actor on visit: %w", err)
		}
	}

	return sessionID, isNew, nil
}

// ComputeRetention derives the full retention report from current store
// contents at now.
func (e *Engine) ComputeRetention(ctx context.Context, now time.Time) (*RetentionReport, error) {
	actors, err := e.store.ListActors(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing retention: %w", err)
	}
	visits, err := e.store.ListVisits(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing retention: %w", err)
	}
	return ComputeRetentionFrom(actors, visits, now), nil
}
