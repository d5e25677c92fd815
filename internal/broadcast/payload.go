package broadcast

import (
	"encoding/json"
	"time"

	"github.com/pulsehq/pulse/internal/domain"
)

// MetricsPayload formats a snapshot for channel and polling consumers.
// Timestamps travel as epoch milliseconds.
func MetricsPayload(s domain.MetricsSnapshot) map[string]any {
	return map[string]any{
		"activeUsers":  s.ActiveUsers,
		"pageViews":    s.PageViews,
		"events":       s.Events,
		"revenue":      s.Revenue,
		"conversions":  s.Conversions,
		"errorRate":    s.ErrorRate,
		"responseTime": s.ResponseTimeMS,
		"systemLoad":   s.SystemLoad,
		"estimated":    s.Estimated,
		"timestamp":    s.CapturedAt.UnixMilli(),
	}
}

// EventPayload formats a tracked event for streaming payloads.
func EventPayload(e domain.AnalyticsEvent) map[string]any {
	payload := map[string]any{
		"id":        e.ID,
		"type":      string(e.Type),
		"page":      e.Page,
		"action":    e.Action,
		"timestamp": e.OccurredAt.UnixMilli(),
	}
	if e.UserID != "" || e.UserName != "" || e.UserEmail != "" {
		payload["user"] = map[string]any{
			"id":    e.UserID,
			"name":  e.UserName,
			"email": e.UserEmail,
		}
	}
	if e.SessionID != "" {
		payload["sessionId"] = e.SessionID
	}
	if e.Referrer != "" {
		payload["referrer"] = e.Referrer
	}
	if e.Location != nil {
		payload["location"] = map[string]any{
			"country": e.Location.Country,
			"region":  e.Location.Region,
			"city":    e.Location.City,
		}
	}
	if len(e.Metadata) > 0 {
		payload["metadata"] = e.Metadata
	}
	return payload
}

// AlertPayload formats an alert for streaming payloads.
func AlertPayload(a domain.Alert) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"title":     a.Title,
		"message":   a.Message,
		"severity":  string(a.Severity),
		"timestamp": a.CreatedAt.UnixMilli(),
	}
}

func marshalEnvelope(kind string, data any, at time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      kind,
		"data":      data,
		"timestamp": at.UnixMilli(),
	})
}
