package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/webibook/analytics/internal/domain"
)

// Memory is the ephemeral fallback store. A single coarse RWMutex guards
// all maps; the in-memory variant is exempt from per-key locking because
// every operation completes without I/O.
type Memory struct {
	mu            sync.RWMutex
	actors        map[string]*domain.Actor // keyed by normalized email
	actorEmails   map[string]string        // actor id -> email
	events        map[string]*domain.Event
	clicks        []domain.ClickRecord
	visits        []domain.VisitRecord
	subscriptions map[string]*domain.EmailSubscription
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		actors:        make(map[string]*domain.Actor),
		actorEmails:   make(map[string]string),
		events:        make(map[string]*domain.Event),
		subscriptions: make(map[string]*domain.EmailSubscription),
	}
}

func (m *Memory) GetActor(_ context.Context, email string) (*domain.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[email]
	if !ok {
		return nil, fmt.Errorf("actor %q: %w", logKey(email), domain.ErrNotFound)
	}
	return copyActor(a), nil
}

func (m *Memory) GetActorByID(_ context.Context, id string) (*domain.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email, ok := m.actorEmails[id]
	if !ok {
		return nil, fmt.Errorf("actor id %s: %w", id, domain.ErrNotFound)
	}
	a, ok := m.actors[email]
	if !ok {
		return nil, fmt.Errorf("actor id %s: %w", id, domain.ErrNotFound)
	}
	return copyActor(a), nil
}

func (m *Memory) UpsertActor(_ context.Context, actor *domain.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[actor.Email] = copyActor(actor)
	m.actorEmails[actor.ID] = actor.Email
	return nil
}

func (m *Memory) ListActors(_ context.Context) ([]domain.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, *copyActor(a))
	}
	return out, nil
}

func (m *Memory) GetEvent(_ context.Context, eventID string) (*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) UpsertEvent(_ context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *event
	m.events[event.ID] = &cp
	return nil
}

func (m *Memory) AddEventCounts(_ context.Context, eventID string, savedDelta, clickDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
	}
	e.SavedCount += savedDelta
	if e.SavedCount < 0 {
		e.SavedCount = 0
	}
	e.ClickCount += clickDelta
	if e.ClickCount < 0 {
		e.ClickCount = 0
	}
	return nil
}

func (m *Memory) ListEvents(_ context.Context) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, *e)
	}
	return out, nil
}

func (m *Memory) AppendClick(_ context.Context, rec *domain.ClickRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = append(m.clicks, *rec)
	return nil
}

func (m *Memory) AppendVisit(_ context.Context, rec *domain.VisitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visits = append(m.visits, *rec)
	return nil
}

func (m *Memory) ListVisits(_ context.Context) ([]domain.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.VisitRecord(nil), m.visits...), nil
}

func (m *Memory) GetSubscription(_ context.Context, email string) (*domain.EmailSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[email]
	if !ok {
		return nil, fmt.Errorf("subscription %q: %w", logKey(email), domain.ErrNotFound)
	}
	return copySubscription(s), nil
}

func (m *Memory) UpsertSubscription(_ context.Context, sub *domain.EmailSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.Email] = copySubscription(sub)
	return nil
}

func (m *Memory) ListSubscriptions(_ context.Context) ([]domain.EmailSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.EmailSubscription, 0, len(m.subscriptions))
	for _, s := range m.subscriptions {
		out = append(out, *copySubscription(s))
	}
	return out, nil
}

func (m *Memory) Aggregates(ctx context.Context) (*AggregateSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := &AggregateSet{
		Actors:        make([]domain.Actor, 0, len(m.actors)),
		Events:        make([]domain.Event, 0, len(m.events)),
		Clicks:        append([]domain.ClickRecord(nil), m.clicks...),
		Visits:        append([]domain.VisitRecord(nil), m.visits...),
		Subscriptions: make([]domain.EmailSubscription, 0, len(m.subscriptions)),
	}
	for _, a := range m.actors {
		set.Actors = append(set.Actors, *copyActor(a))
	}
	for _, e := range m.events {
		set.Events = append(set.Events, *e)
	}
	for _, s := range m.subscriptions {
		set.Subscriptions = append(set.Subscriptions, *copySubscription(s))
	}
	return set, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// logKey keeps raw emails out of error strings; full redaction happens in
// the logger, this just avoids leaking the local part through %q wrapping.
func logKey(email string) string {
	if i := strings.IndexByte(email, '@'); i > 2 {
		return email[:2] + "***" + email[i:]
	}
	return "***"
}
