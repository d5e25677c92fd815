package domain

import "time"

// Session tracks one browser session from entry to exit. Starting an
// already-known session id refreshes LastSeenAt instead of erroring.
type Session struct {
	ID          string
	SessionID   string
	UserID      string
	EntryPage   string
	ExitPage    string
	Referrer    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	StartedAt   time.Time
	LastSeenAt  time.Time
	EndedAt     *time.Time
	DurationMS  *int64
}
