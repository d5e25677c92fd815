package domain

import "time"

// EventType enumerates the closed set of tracked behavioral events.
type EventType string

const (
	EventPageView   EventType = "page_view"
	EventUserAction EventType = "user_action"
	EventConversion EventType = "conversion"
	EventAuth       EventType = "auth"
	EventError      EventType = "error"
)

// Valid reports whether the type belongs to the closed set.
func (t EventType) Valid() bool {
	switch t {
	case EventPageView, EventUserAction, EventConversion, EventAuth, EventError:
		return true
	}
	return false
}

// Location is an optional geolocation attached to an event.
type Location struct {
	Country string
	Region  string
	City    string
}

// AnalyticsEvent is a single tracked occurrence. Immutable once ingested.
type AnalyticsEvent struct {
	ID         string
	Type       EventType
	UserID     string
	UserName   string
	UserEmail  string
	Page       string
	Action     string
	Referrer   string
	SessionID  string
	Location   *Location
	Metadata   map[string]any
	OccurredAt time.Time
	IngestedAt time.Time
}

// MetricsSnapshot is a point-in-time aggregate, superseded by the next tick.
// Estimated marks figures sourced from local estimators rather than real
// billing/health integrations.
type MetricsSnapshot struct {
	ActiveUsers    int
	PageViews      int64
	Events         int64
	Revenue        float64
	Conversions    int64
	ErrorRate      float64
	ResponseTimeMS float64
	SystemLoad     float64
	Estimated      bool
	CapturedAt     time.Time
}
