package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsehq/pulse/internal/domain"
)

// InsertEvent stores a tracked analytics event.
func (r *Repository) InsertEvent(ctx context.Context, event *domain.AnalyticsEvent) error {
	const query = `INSERT INTO analytics_events
		(id, event_type, action, page, referrer, session_id, user_id, user_name, user_email, location, metadata, occurred_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	location, err := marshalNullable(event.Location)
	if err != nil {
		return fmt.Errorf("encode event location: %w", err)
	}
	metadata, err := marshalNullable(event.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, query,
		event.ID, string(event.Type), event.Action, event.Page, event.Referrer,
		event.SessionID, event.UserID, event.UserName, event.UserEmail,
		location, metadata, event.OccurredAt, event.IngestedAt)
	return err
}

// ListEvents returns recent events newest first, optionally filtered by type.
func (r *Repository) ListEvents(ctx context.Context, eventType string, limit, offset int) ([]domain.AnalyticsEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, event_type, action, page, referrer, session_id, user_id, user_name, user_email, location, metadata, occurred_at, ingested_at
		FROM analytics_events
		WHERE ($1 = '' OR event_type = $1)
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, eventType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.AnalyticsEvent, 0, limit)
	for rows.Next() {
		var (
			e         domain.AnalyticsEvent
			eventType string
			location  []byte
			metadata  []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.Action, &e.Page, &e.Referrer,
			&e.SessionID, &e.UserID, &e.UserName, &e.UserEmail,
			&location, &metadata, &e.OccurredAt, &e.IngestedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(eventType)
		if len(location) > 0 {
			var loc domain.Location
			if err := json.Unmarshal(location, &loc); err == nil {
				e.Location = &loc
			}
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &e.Metadata)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEventsSince counts events ingested within the trailing window.
func (r *Repository) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	const query = `SELECT COUNT(1) FROM analytics_events WHERE occurred_at >= $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountPageViewsSince counts page_view events within the trailing window.
func (r *Repository) CountPageViewsSince(ctx context.Context, since time.Time) (int64, error) {
	const query = `SELECT COUNT(1) FROM analytics_events WHERE event_type = 'page_view' AND occurred_at >= $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case *domain.Location:
		if value == nil {
			return nil, nil
		}
	case map[string]any:
		if len(value) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
