// Package report assembles the read-only dashboard and export views. It is
// a pure consumer of the storage aggregates and performs no writes.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/store"
	"github.com/webibook/analytics/internal/visit"
)

// EventEngagement is one row of the per-event engagement table.
type EventEngagement struct {
	EventID    string `json:"event_id"`
	Title      string `json:"title"`
	Topic      string `json:"topic,omitempty"`
	SavedCount int    `json:"saved_count"`
	ClickCount int    `json:"click_count"`
}

// VisitStats mirrors the visitStats block of the site's export format.
type VisitStats struct {
	FirstVisit *time.Time `json:"firstVisit,omitempty"`
	LastVisit  *time.Time `json:"lastVisit,omitempty"`
	VisitCount int        `json:"visitCount"`
}

// Export is the JSON shape the offline analysis tooling consumes.
type Export struct {
	WeeklyEmails []string            `json:"weeklyEmails"`
	SavedEvents  map[string][]string `json:"savedEvents"`
	VisitStats   VisitStats          `json:"visitStats"`
}

// Snapshot is the composed reporting object served to the admin dashboard.
// Every sub-aggregate tolerates being empty on a fresh deployment.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`

	TotalActors        int `json:"total_actors"`
	TotalEvents        int `json:"total_events"`
	TotalSaves         int `json:"total_saves"`
	TotalClicks        int `json:"total_clicks"`
	TotalVisits        int `json:"total_visits"`
	ActiveSubscribers  int `json:"active_subscribers"`
	TotalSubscriptions int `json:"total_subscriptions"`

	Events       []EventEngagement `json:"events"`
	TopSaved     []EventEngagement `json:"top_saved"`
	EmailDomains map[string]int    `json:"email_domains"`

	// SavesPerActor maps saved-set size to the number of actors with that
	// many saves, the dashboard's engagement-distribution chart.
	SavesPerActor map[int]int `json:"saves_per_actor"`
	AvgSaves      float64     `json:"avg_saves_per_actor"`

	Retention *visit.RetentionReport `json:"retention"`
	Export    Export                 `json:"export"`
}

// Builder composes snapshots from a single consistent aggregate read.
type Builder struct {
	store store.Store
	now   func() time.Time
}

// NewBuilder builds a snapshot builder.
func NewBuilder(s store.Store) *Builder {
	return &Builder{store: s, now: time.Now}
}

const topSavedLimit = 10

// Build reads the aggregates once and derives every reporting view from
// that copy, so no counter can be observed mid-update.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	set, err := b.store.Aggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("building snapshot: %w", err)
	}
	now := b.now().UTC()

	snap := &Snapshot{
		GeneratedAt:   now,
		TotalActors:   len(set.Actors),
		TotalEvents:   len(set.Events),
		TotalClicks:   len(set.Clicks),
		TotalVisits:   len(set.Visits),
		EmailDomains:  make(map[string]int),
		SavesPerActor: make(map[int]int),
		Retention:     visit.ComputeRetentionFrom(set.Actors, set.Visits, now),
		Export: Export{
			WeeklyEmails: []string{},
			SavedEvents:  make(map[string][]string),
		},
	}

	// The actor saved sets are the authoritative save relation; recompute
	// per-event counts from them so a counter that drifted (a crash between
	// set write and counter bump) is reconciled on read.
	savedByEvent := make(map[string]int)
	for i := range set.Actors {
		a := &set.Actors[i]
		n := len(a.SavedEvents)
		snap.TotalSaves += n
		snap.SavesPerActor[n]++
		if n > 0 {
			snap.Export.SavedEvents[a.Email] = a.SavedEventIDs()
		}
		for _, s := range a.SavedEvents {
			savedByEvent[s.EventID]++
		}
	}
	if snap.TotalActors > 0 {
		snap.AvgSaves = float64(snap.TotalSaves) / float64(snap.TotalActors)
	}

	for _, e := range set.Events {
		saved := e.SavedCount
		if authoritative, ok := savedByEvent[e.ID]; ok && authoritative != saved {
			saved = authoritative
		} else if !ok && saved != 0 {
			saved = 0
		}
		snap.Events = append(snap.Events, EventEngagement{
			EventID:    e.ID,
			Title:      e.Title,
			Topic:      e.Topic,
			SavedCount: saved,
			ClickCount: e.ClickCount,
		})
	}
	sort.Slice(snap.Events, func(i, j int) bool { return snap.Events[i].EventID < snap.Events[j].EventID })

	top := append([]EventEngagement(nil), snap.Events...)
	sort.Slice(top, func(i, j int) bool {
		if top[i].SavedCount != top[j].SavedCount {
			return top[i].SavedCount > top[j].SavedCount
		}
		return top[i].EventID < top[j].EventID
	})
	if len(top) > topSavedLimit {
		top = top[:topSavedLimit]
	}
	snap.TopSaved = top

	for _, sub := range set.Subscriptions {
		snap.TotalSubscriptions++
		if sub.Active {
			snap.ActiveSubscribers++
			snap.Export.WeeklyEmails = append(snap.Export.WeeklyEmails, sub.Email)
			snap.EmailDomains[emailDomain(sub.Email)]++
		}
	}
	sort.Strings(snap.Export.WeeklyEmails)

	snap.Export.VisitStats = visitStats(set.Visits)

	return snap, nil
}

func visitStats(visits []domain.VisitRecord) VisitStats {
	stats := VisitStats{VisitCount: len(visits)}
	for i := range visits {
		t := visits[i].CreatedAt
		if stats.FirstVisit == nil || t.Before(*stats.FirstVisit) {
			first := t
			stats.FirstVisit = &first
		}
		if stats.LastVisit == nil || t.After(*stats.LastVisit) {
			last := t
			stats.LastVisit = &last
		}
	}
	return stats
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return "unknown"
}
