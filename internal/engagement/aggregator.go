// Package engagement owns the per-event counters and per-actor saved-event
// sets. All operations are idempotent: repeating a save or unsave leaves
// state exactly as a single call would.
package engagement

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

// Aggregator serializes mutations per actor email and per event id so
// concurrent saves, unsaves, and clicks never interleave into lost updates.
type Aggregator struct {
	store store.Store
	locks *keylock.Map
	now   func() time.Time
}

// New builds an aggregator. The lock map is shared with the identity
// resolver and visit engine so all actor mutations serialize on one key.
func New(s store.Store, locks *keylock.Map) *Aggregator {
	return &Aggregator{store: s, locks: locks, now: time.Now}
}

// SaveEvent adds eventID to the actor's saved set and bumps the event's
// saved count by exactly one. Saving an already-saved event is a no-op.
// Unknown events are rejected with domain.ErrNotFound; saving never creates
// catalog entries.
func (a *Aggregator) SaveEvent(ctx context.Context, actorEmail, eventID string) ([]domain.SavedEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("save: empty event id: %w", domain.ErrInvalidInput)
	}
	if _, err := a.store.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("save event %s: %w", eventID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("save event %s: %w", eventID, err)
	}

	release := a.locks.Lock("actor:" + actorEmail)
	defer release()

	actor, err := a.store.GetActor(ctx, actorEmail)
	if err != nil {
		return nil, fmt.Errorf("save: loading actor: %w", err)
	}
	if actor.HasSaved(eventID) {
		return actor.SavedEvents, nil
	}

	actor.SavedEvents = append(actor.SavedEvents, domain.SavedEvent{
		EventID: eventID,
		SavedAt: a.now().UTC(),
	})
	// The actor's saved set is the authoritative relation; it is written
	// first. If the counter bump below is lost to a crash, report building
	// reconciles counts from the sets.
	if err := a.store.UpsertActor(ctx, actor); err != nil {
		return nil, fmt.Errorf("save: persisting actor: %w", err)
	}

	releaseEvent := a.locks.Lock("event:" + eventID)
	defer releaseEvent()
	if err := a.store.AddEventCounts(ctx, eventID, 1, 0); err != nil {
		return nil, fmt.Errorf("save: incrementing saved count: %w", err)
	}
	return actor.SavedEvents, nil
}

// UnsaveEvent removes eventID from the actor's saved set and decrements the
// event's saved count, clamped at zero. Unsaving an absent entry is a no-op.
func (a *Aggregator) UnsaveEvent(ctx context.Context, actorEmail, eventID string) ([]domain.SavedEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("unsave: empty event id: %w", domain.ErrInvalidInput)
	}

	release := a.locks.Lock("actor:" + actorEmail)
	defer release()

	actor, err := a.store.GetActor(ctx, actorEmail)
	if err != nil {
		return nil, fmt.Errorf("unsave: loading actor: %w", err)
	}

	kept := actor.SavedEvents[:0]
	removed := false
	for _, s := range actor.SavedEvents {
		if s.EventID == eventID {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	if !removed {
		return actor.SavedEvents, nil
	}
	actor.SavedEvents = kept

	if err := a.store.UpsertActor(ctx, actor); err != nil {
		return nil, fmt.Errorf("unsave: persisting actor: %w", err)
	}

	releaseEvent := a.locks.Lock("event:" + eventID)
	defer releaseEvent()
	if err := a.store.AddEventCounts(ctx, eventID, -1, 0); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("unsave: decrementing saved count: %w", err)
	}
	return actor.SavedEvents, nil
}

// RecordClick appends an audit record and bumps the event's click count.
// An unknown event id gets a minimal catalog entry rather than an error:
// click tracking is never blocked by catalog completeness.
func (a *Aggregator) RecordClick(ctx context.Context, eventID, title, topic string, actor *domain.Actor, sessionID string, client domain.ClientContext) error {
	if eventID == "" {
		return fmt.Errorf("click: empty event id: %w", domain.ErrInvalidInput)
	}

	rec := &domain.ClickRecord{
		ID:        uuid.NewString(),
		EventID:   eventID,
		SessionID: sessionID,
		Client:    client,
		CreatedAt: a.now().UTC(),
	}
	if actor != nil {
		rec.ActorID = actor.ID
	}
	// The audit trail is unconditional, even if the counter update below
	// fails.
	if err := a.store.AppendClick(ctx, rec); err != nil {
		return fmt.Errorf("click: appending record: %w", err)
	}

	release := a.locks.Lock("event:" + eventID)
	defer release()

	_, err := a.store.GetEvent(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		seed := &domain.Event{ID: eventID, Title: title, Topic: topic}
		if err := a.store.UpsertEvent(ctx, seed); err != nil {
			return fmt.Errorf("click: self-healing event %s: %w", eventID, err)
		}
		logger.Info("created catalog entry from click", "event_id", eventID)
	} else if err != nil {
		return fmt.Errorf("click: loading event %s: %w", eventID, err)
	}

	if err := a.store.AddEventCounts(ctx, eventID, 0, 1); err != nil {
		return fmt.Errorf("click: incrementing click count: %w", err)
	}
	return nil
}
