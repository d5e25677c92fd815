package realtime

import (
	"encoding/json"
	"fmt"
)

// Message kinds carried by the dashboard channel.
const (
	KindMetrics   = "metrics"
	KindEvent     = "event"
	KindAlert     = "alert"
	KindUserCount = "user_count"
)

// Envelope is the wire frame for every channel message. Timestamp is epoch
// milliseconds.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// ParseEnvelope decodes a raw frame and rejects unknown message kinds.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case KindMetrics, KindEvent, KindAlert, KindUserCount:
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// Metrics is the dashboard snapshot payload.
type Metrics struct {
	ActiveUsers  int     `json:"activeUsers"`
	PageViews    int64   `json:"pageViews"`
	Events       int64   `json:"events"`
	Revenue      float64 `json:"revenue"`
	Conversions  int64   `json:"conversions"`
	ErrorRate    float64 `json:"errorRate"`
	ResponseTime float64 `json:"responseTime"`
	SystemLoad   float64 `json:"systemLoad"`
	Estimated    bool    `json:"estimated"`
	Timestamp    int64   `json:"timestamp"`
}

// EventUser identifies the user behind a tracked event.
type EventUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Location is the coarse geo attribution of an event.
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// Event is a live tracked event payload.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Page      string         `json:"page"`
	Action    string         `json:"action"`
	User      *EventUser     `json:"user,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Referrer  string         `json:"referrer,omitempty"`
	Location  *Location      `json:"location,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Alert is a live alert payload.
type Alert struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Timestamp int64  `json:"timestamp"`
}

// UserCount reports how many dashboard viewers are connected.
type UserCount struct {
	Count int `json:"count"`
}
