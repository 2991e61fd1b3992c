package gazette

import "github.com/hazyhaar/gazette/internal/store"

// Event is a normalized activity event. Re-exported from internal.
type Event = store.Event

// Cycle is the per-date publication cycle record.
type Cycle = store.Cycle

// Review is a parked human-review request.
type Review = store.Review

// Status is the operational snapshot served by GET /health.
type Status struct {
	Date          string `json:"date"`
	EventsToday   int    `json:"events_today"`
	LastCompleted string `json:"last_completed,omitempty"`
	LastFailed    string `json:"last_failed,omitempty"`
	PublishTime   string `json:"publish_time"`
	ReviewGate    bool   `json:"review_gate"`
}
