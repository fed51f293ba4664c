package domain

// Event is a catalog entry that visitors can save and click through to.
//
// SavedCount and ClickCount are mutated only by the engagement aggregator.
// Both are non-negative; SavedCount may go down on unsave but is clamped
// at zero.
type Event struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Topic      string `json:"topic"`
	Schedule   string `json:"schedule,omitempty"`
	Audience   string `json:"audience,omitempty"`
	URL        string `json:"url,omitempty"`
	SavedCount int    `json:"saved_count"`
	ClickCount int    `json:"click_count"`
}
