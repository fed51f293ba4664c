package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/pkg/logger"
)

// Failover fronts a durable primary with an in-memory fallback. Every write
// that succeeds against the primary is mirrored into the fallback, so when
// the primary fails mid-flight the process can degrade to memory without
// any previously acknowledged write disappearing from the caller's view.
//
// Degradation is one-way for the life of the process and is logged exactly
// once. An in-flight operation that hits a primary failure is retried once
// against the fallback before its result is returned.
type Failover struct {
	primary  Store
	fallback *Memory
	degraded atomic.Bool
	logOnce  sync.Once
}

// NewFailover wraps primary with the given in-memory fallback.
func NewFailover(primary Store, fallback *Memory) *Failover {
	return &Failover{primary: primary, fallback: fallback}
}

// Degraded reports whether the process has fallen back to memory.
func (f *Failover) Degraded() bool { return f.degraded.Load() }

func (f *Failover) degrade(err error) {
	f.degraded.Store(true)
	f.logOnce.Do(func() {
		logger.Error("durable storage failed, degrading to in-memory fallback for the rest of the process",
			"error", err.Error())
	})
}

// write runs op against the primary (mirroring into the fallback on
// success) or, once degraded, against the fallback alone.
func (f *Failover) write(op func(Store) error) error {
	if f.degraded.Load() {
		return op(f.fallback)
	}
	if err := op(f.primary); err != nil {
		if isDomainErr(err) {
			return err
		}
		f.degrade(err)
		return op(f.fallback)
	}
	// Mirror so the fallback can answer reads after a later degradation.
	// The fallback is infallible, but keep the error path honest.
	if err := op(f.fallback); err != nil {
		return err
	}
	return nil
}

// read runs op against the primary or, on failure, degrades and retries
// against the fallback mirror.
func read[T any](f *Failover, op func(Store) (T, error)) (T, error) {
	if f.degraded.Load() {
		return op(f.fallback)
	}
	out, err := op(f.primary)
	if err != nil && !isDomainErr(err) {
		f.degrade(err)
		return op(f.fallback)
	}
	return out, err
}

// isDomainErr distinguishes "the data says no" from "the backend is broken".
// Domain outcomes like NotFound must not trip the fallback.
func isDomainErr(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrUnauthenticated)
}

func (f *Failover) GetActor(ctx context.Context, email string) (*domain.Actor, error) {
	return read(f, func(s Store) (*domain.Actor, error) { return s.GetActor(ctx, email) })
}

func (f *Failover) GetActorByID(ctx context.Context, id string) (*domain.Actor, error) {
	return read(f, func(s Store) (*domain.Actor, error) { return s.GetActorByID(ctx, id) })
}

func (f *Failover) UpsertActor(ctx context.Context, actor *domain.Actor) error {
	return f.write(func(s Store) error { return s.UpsertActor(ctx, actor) })
}

func (f *Failover) ListActors(ctx context.Context) ([]domain.Actor, error) {
	return read(f, func(s Store) ([]domain.Actor, error) { return s.ListActors(ctx) })
}

func (f *Failover) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	return read(f, func(s Store) (*domain.Event, error) { return s.GetEvent(ctx, eventID) })
}

func (f *Failover) UpsertEvent(ctx context.Context, event *domain.Event) error {
	return f.write(func(s Store) error { return s.UpsertEvent(ctx, event) })
}

// AddEventCounts mirrors with a healing step: an event seeded or
// self-healed in an earlier process run exists only in the primary, so the
// mirrored update can miss. A counter write acknowledged by the primary
// must never come back as a failure; the missing event is copied into the
// fallback instead, counters included.
func (f *Failover) AddEventCounts(ctx context.Context, eventID string, savedDelta, clickDelta int) error {
	if f.degraded.Load() {
		return f.fallback.AddEventCounts(ctx, eventID, savedDelta, clickDelta)
	}
	if err := f.primary.AddEventCounts(ctx, eventID, savedDelta, clickDelta); err != nil {
		if isDomainErr(err) {
			return err
		}
		f.degrade(err)
		return f.fallback.AddEventCounts(ctx, eventID, savedDelta, clickDelta)
	}
	if err := f.fallback.AddEventCounts(ctx, eventID, savedDelta, clickDelta); errors.Is(err, domain.ErrNotFound) {
		f.mirrorEvent(ctx, eventID)
	}
	return nil
}

// mirrorEvent copies an event the fallback has never seen from the primary,
// so reads after a later degradation still find it. The primary's copy
// already carries the counters as just written.
func (f *Failover) mirrorEvent(ctx context.Context, eventID string) {
	event, err := f.primary.GetEvent(ctx, eventID)
	if err == nil {
		err = f.fallback.UpsertEvent(ctx, event)
	}
	if err != nil {
		logger.Warn("could not mirror event into fallback", "event_id", eventID, "error", err.Error())
	}
}

func (f *Failover) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return read(f, func(s Store) ([]domain.Event, error) { return s.ListEvents(ctx) })
}

func (f *Failover) AppendClick(ctx context.Context, rec *domain.ClickRecord) error {
	return f.write(func(s Store) error { return s.AppendClick(ctx, rec) })
}

func (f *Failover) AppendVisit(ctx context.Context, rec *domain.VisitRecord) error {
	return f.write(func(s Store) error { return s.AppendVisit(ctx, rec) })
}

func (f *Failover) ListVisits(ctx context.Context) ([]domain.VisitRecord, error) {
	return read(f, func(s Store) ([]domain.VisitRecord, error) { return s.ListVisits(ctx) })
}

func (f *Failover) GetSubscription(ctx context.Context, email string) (*domain.EmailSubscription, error) {
	return read(f, func(s Store) (*domain.EmailSubscription, error) { return s.GetSubscription(ctx, email) })
}

func (f *Failover) UpsertSubscription(ctx context.Context, sub *domain.EmailSubscription) error {
	return f.write(func(s Store) error { return s.UpsertSubscription(ctx, sub) })
}

func (f *Failover) ListSubscriptions(ctx context.Context) ([]domain.EmailSubscription, error) {
	return read(f, func(s Store) ([]domain.EmailSubscription, error) { return s.ListSubscriptions(ctx) })
}

func (f *Failover) Aggregates(ctx context.Context) (*AggregateSet, error) {
	return read(f, func(s Store) (*AggregateSet, error) { return s.Aggregates(ctx) })
}

func (f *Failover) Ping(ctx context.Context) error {
	if f.degraded.Load() {
		return f.fallback.Ping(ctx)
	}
	return f.primary.Ping(ctx)
}
