package domain

import (
	"strings"
	"time"
)

// SavedEvent is a single entry in an actor's saved-event set.
type SavedEvent struct {
	EventID string    `json:"event_id"`
	SavedAt time.Time `json:"saved_at"`
}

// DeviceSnapshot captures the device/location metadata observed on an
// actor's most recent contact. It is a best-effort snapshot, not history.
type DeviceSnapshot struct {
	DeviceType string `json:"device_type,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Country    string `json:"country,omitempty"`
	Region     string `json:"region,omitempty"`
	City       string `json:"city,omitempty"`
}

// Actor is a visitor identity tracked across visits, registered (has an
// email) or bound to an anonymous session. Actors are never hard-deleted.
type Actor struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	Name        string         `json:"name"`
	SavedEvents []SavedEvent   `json:"saved_events"`
	Device      DeviceSnapshot `json:"device"`
	VisitCount  int            `json:"visit_count"`
	FirstSeenAt time.Time      `json:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
}

// HasSaved reports whether eventID is in the actor's saved set.
func (a *Actor) HasSaved(eventID string) bool {
	for _, s := range a.SavedEvents {
		if s.EventID == eventID {
			return true
		}
	}
	return false
}

// SavedEventIDs returns the event ids in the saved set, in save order.
func (a *Actor) SavedEventIDs() []string {
	ids := make([]string, 0, len(a.SavedEvents))
	for _, s := range a.SavedEvents {
		ids = append(ids, s.EventID)
	}
	return ids
}

// NormalizeEmail lowercases and trims an email address. All email keys in
// the system pass through here before storage or lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether the (already normalized) email is acceptable
// as an identity key.
func ValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}
