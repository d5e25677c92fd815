package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pulsehq/pulse/internal/domain"
	"github.com/pulsehq/pulse/internal/repository"
)

// UpsertSession creates a session or refreshes last_seen_at for a known
// session id. ID and StartedAt reflect the stored row after the call.
func (r *Repository) UpsertSession(ctx context.Context, session *domain.Session) error {
	const query = `INSERT INTO analytics_sessions
		(id, session_id, user_id, entry_page, referrer, utm_source, utm_medium, utm_campaign, started_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at
		RETURNING id, started_at, last_seen_at`
	row := r.pool.QueryRow(ctx, query,
		session.ID, session.SessionID, session.UserID, session.EntryPage, session.Referrer,
		session.UTMSource, session.UTMMedium, session.UTMCampaign,
		session.StartedAt, session.LastSeenAt)
	return row.Scan(&session.ID, &session.StartedAt, &session.LastSeenAt)
}

// TouchSession refreshes last_seen_at for a session referenced by a tracked
// event. Unknown ids are ignored.
func (r *Repository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	const query = `UPDATE analytics_sessions SET last_seen_at = $2 WHERE session_id = $1 AND ended_at IS NULL`
	_, err := r.pool.Exec(ctx, query, sessionID, at)
	return err
}

// EndSession closes a session and computes its duration from the stored
// start time.
func (r *Repository) EndSession(ctx context.Context, sessionID, exitPage string, at time.Time) (*domain.Session, error) {
	const query = `UPDATE analytics_sessions
		SET ended_at = $2,
		    exit_page = COALESCE(NULLIF($3, ''), exit_page),
		    last_seen_at = $2,
		    duration_ms = (EXTRACT(EPOCH FROM ($2::timestamptz - started_at)) * 1000)::bigint
		WHERE session_id = $1
		RETURNING id, session_id, user_id, entry_page, exit_page, referrer, utm_source, utm_medium, utm_campaign, started_at, last_seen_at, ended_at, duration_ms`
	row := r.pool.QueryRow(ctx, query, sessionID, at, exitPage)
	var s domain.Session
	if err := row.Scan(&s.ID, &s.SessionID, &s.UserID, &s.EntryPage, &s.ExitPage, &s.Referrer,
		&s.UTMSource, &s.UTMMedium, &s.UTMCampaign,
		&s.StartedAt, &s.LastSeenAt, &s.EndedAt, &s.DurationMS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CountActiveSessions counts sessions with activity inside the trailing window.
func (r *Repository) CountActiveSessions(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(1) FROM analytics_sessions WHERE last_seen_at >= $1 AND ended_at IS NULL`
	var count int
	if err := r.pool.QueryRow(ctx, query, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
