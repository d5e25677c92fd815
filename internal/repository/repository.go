package repository

import (
	"context"
	"time"

	"github.com/pulsehq/pulse/internal/domain"
)

// EventRepository persists tracked analytics events.
type EventRepository interface {
	InsertEvent(ctx context.Context, event *domain.AnalyticsEvent) error
	ListEvents(ctx context.Context, eventType string, limit, offset int) ([]domain.AnalyticsEvent, error)
	CountEventsSince(ctx context.Context, since time.Time) (int64, error)
	CountPageViewsSince(ctx context.Context, since time.Time) (int64, error)
}

// SessionRepository manages browser session lifecycle rows.
type SessionRepository interface {
	UpsertSession(ctx context.Context, session *domain.Session) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	EndSession(ctx context.Context, sessionID, exitPage string, at time.Time) (*domain.Session, error)
	CountActiveSessions(ctx context.Context, since time.Time) (int, error)
}
