package domain

import "time"

// ClientContext is the resolved request context handed to the core by the
// HTTP layer: network identity plus whatever geo tags the edge provided.
type ClientContext struct {
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Country    string `json:"country,omitempty"`
	Region     string `json:"region,omitempty"`
	City       string `json:"city,omitempty"`
}

// ClickRecord is an append-only audit entry for a single click. Records are
// never mutated after creation.
type ClickRecord struct {
	ID        string        `json:"id"`
	EventID   string        `json:"event_id"`
	ActorID   string        `json:"actor_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Client    ClientContext `json:"client"`
	CreatedAt time.Time     `json:"created_at"`
}

// VisitRecord is an append-only log entry for a single visit ping.
// IsNewSession is true for at most one record per session id.
type VisitRecord struct {
	ID           string        `json:"id"`
	ActorID      string        `json:"actor_id,omitempty"`
	SessionID    string        `json:"session_id"`
	IsNewSession bool          `json:"is_new_session"`
	Client       ClientContext `json:"client"`
	CreatedAt    time.Time     `json:"created_at"`
}

// EmailSubscription tracks a weekly-email signup. Unsubscribing flips Active
// and stamps UnsubscribedAt; the record itself is kept.
type EmailSubscription struct {
	Email          string     `json:"email"`
	Active         bool       `json:"active"`
	Source         string     `json:"source,omitempty"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}
