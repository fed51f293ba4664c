// Package store defines the storage capability the rest of the backend is
// written against, with two interchangeable variants: a durable
// DynamoDB-backed store and an in-memory store. Callers never depend on a
// concrete variant; the failover wrapper in this package degrades a process
// from durable to memory when the durable backend fails, without a write
// ever being acknowledged and then lost.
package store

import (
	"context"

	"github.com/webibook/analytics/internal/domain"
)

// Store is the uniform capability set over both backends.
//
// Get* methods return domain.ErrNotFound (wrapped) when the key is absent.
// All returned values are copies; mutating them does not touch stored state.
type Store interface {
	GetActor(ctx context.Context, email string) (*domain.Actor, error)
	GetActorByID(ctx context.Context, id string) (*domain.Actor, error)
	UpsertActor(ctx context.Context, actor *domain.Actor) error
	ListActors(ctx context.Context) ([]domain.Actor, error)

	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	UpsertEvent(ctx context.Context, event *domain.Event) error
	// AddEventCounts adjusts an event's counters atomically. Negative
	// deltas are clamped so neither counter goes below zero.
	AddEventCounts(ctx context.Context, eventID string, savedDelta, clickDelta int) error
	ListEvents(ctx context.Context) ([]domain.Event, error)

	AppendClick(ctx context.Context, rec *domain.ClickRecord) error
	AppendVisit(ctx context.Context, rec *domain.VisitRecord) error
	ListVisits(ctx context.Context) ([]domain.VisitRecord, error)

	GetSubscription(ctx context.Context, email string) (*domain.EmailSubscription, error)
	UpsertSubscription(ctx context.Context, sub *domain.EmailSubscription) error
	ListSubscriptions(ctx context.Context) ([]domain.EmailSubscription, error)

	// Aggregates returns a deep, point-in-time-consistent copy of all
	// state for report building. The result never aliases live structures.
	Aggregates(ctx context.Context) (*AggregateSet, error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}

// AggregateSet is the snapshot handed to report builders.
type AggregateSet struct {
	Actors        []domain.Actor             `json:"actors"`
	Events        []domain.Event             `json:"events"`
	Clicks        []domain.ClickRecord       `json:"clicks"`
	Visits        []domain.VisitRecord       `json:"visits"`
	Subscriptions []domain.EmailSubscription `json:"subscriptions"`
}

func copyActor(a *domain.Actor) *domain.Actor {
	cp := *a
	cp.SavedEvents = append([]domain.SavedEvent(nil), a.SavedEvents...)
	return &cp
}

func copySubscription(s *domain.EmailSubscription) *domain.EmailSubscription {
	cp := *s
	if s.UnsubscribedAt != nil {
		t := *s.UnsubscribedAt
		cp.UnsubscribedAt = &t
	}
	return &cp
}
