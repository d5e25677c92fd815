package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/domain"
	"github.com/pulsehq/pulse/internal/repository"
)

const persistTimeout = 5 * time.Second

// Publisher receives validated events and alerts for live fan-out.
type Publisher interface {
	PublishEvent(event domain.AnalyticsEvent)
	PublishAlert(alert domain.Alert)
}

// Service validates inbound tracking calls, persists them, and forwards live
// events to the broadcaster. Persistence is fire-and-forget: analytics must
// never break the calling application flow.
type Service struct {
	events    repository.EventRepository
	sessions  repository.SessionRepository
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

// New constructs the ingestion service.
func New(events repository.EventRepository, sessions repository.SessionRepository, publisher Publisher, logger *slog.Logger) *Service {
	if logger != nil {
		logger = logger.With("component", "ingest")
	} else {
		logger = slog.Default()
	}
	return &Service{
		events:    events,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// TrackInput mirrors the ingestion endpoint body.
type TrackInput struct {
	EventType  string           `json:"eventType"`
	EventName  string           `json:"eventName"`
	Properties map[string]any   `json:"properties"`
	Page       string           `json:"page"`
	Referrer   string           `json:"referrer"`
	SessionID  string           `json:"sessionId"`
	UserID     string           `json:"userId"`
	UserName   string           `json:"userName"`
	UserEmail  string           `json:"userEmail"`
	Location   *domain.Location `json:"location"`
}

// Track validates and ingests a single event. Validation failures are the
// only error condition; storage failures are logged and absorbed.
func (s *Service) Track(ctx context.Context, input TrackInput) (domain.AnalyticsEvent, error) {
	event, err := s.buildEvent(input)
	if err != nil {
		return domain.AnalyticsEvent{}, err
	}
	s.persistAsync(event)
	if s.publisher != nil {
		s.publisher.PublishEvent(event)
		if event.Type == domain.EventError {
			s.publisher.PublishAlert(domain.Alert{
				ID:        uuid.NewString(),
				Title:     "Client error reported",
				Message:   fmt.Sprintf("%s on %s", event.Action, pageOrUnknown(event.Page)),
				Severity:  domain.SeverityWarning,
				CreatedAt: event.OccurredAt,
			})
		}
	}
	return event, nil
}

// BatchResult reports partial-success counts for batch tracking.
type BatchResult struct {
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []BatchError `json:"errors,omitempty"`
}

// BatchError identifies a rejected batch item.
type BatchError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// TrackBatch validates each item independently. Only valid items are
// persisted and forwarded; one bad item never fails the batch.
func (s *Service) TrackBatch(ctx context.Context, inputs []TrackInput) BatchResult {
	result := BatchResult{}
	for i, input := range inputs {
		if _, err := s.Track(ctx, input); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchError{Index: i, Reason: err.Error()})
			continue
		}
		result.Successful++
	}
	return result
}

// StartSessionInput mirrors the session creation body.
type StartSessionInput struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	EntryPage   string `json:"entryPage"`
	Referrer    string `json:"referrer"`
	UTMSource   string `json:"utmSource"`
	UTMMedium   string `json:"utmMedium"`
	UTMCampaign string `json:"utmCampaign"`
}

// StartSession creates or refreshes a session. Starting an already-known
// session id updates its last-activity time rather than erroring.
func (s *Service) StartSession(ctx context.Context, input StartSessionInput) (domain.Session, error) {
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return domain.Session{}, errors.New("sessionId is required")
	}
	now := s.now().UTC()
	session := domain.Session{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      strings.TrimSpace(input.UserID),
		EntryPage:   strings.TrimSpace(input.EntryPage),
		Referrer:    strings.TrimSpace(input.Referrer),
		UTMSource:   strings.TrimSpace(input.UTMSource),
		UTMMedium:   strings.TrimSpace(input.UTMMedium),
		UTMCampaign: strings.TrimSpace(input.UTMCampaign),
		StartedAt:   now,
		LastSeenAt:  now,
	}
	if err := s.sessions.UpsertSession(ctx, &session); err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: %w", err)
	}
	return session, nil
}

// EndSession closes a session and returns it with the computed duration.
func (s *Service) EndSession(ctx context.Context, sessionID, exitPage string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, errors.New("sessionId is required")
	}
	session, err := s.sessions.EndSession(ctx, sessionID, strings.TrimSpace(exitPage), s.now().UTC())
	if err != nil {
		return domain.Session{}, err
	}
	return *session, nil
}

// Wait blocks until in-flight asynchronous persistence completes. Used for
// graceful shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) buildEvent(input TrackInput) (domain.AnalyticsEvent, error) {
	eventType := domain.EventType(strings.TrimSpace(input.EventType))
	if !eventType.Valid() {
		return domain.AnalyticsEvent{}, fmt.Errorf("unknown event type %q", input.EventType)
	}
	name := strings.TrimSpace(input.EventName)
	if name == "" {
		return domain.AnalyticsEvent{}, errors.New("eventName is required")
	}
	now := s.now().UTC()
	return domain.AnalyticsEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Action:     name,
		Page:       strings.TrimSpace(input.Page),
		Referrer:   strings.TrimSpace(input.Referrer),
		SessionID:  strings.TrimSpace(input.SessionID),
		UserID:     strings.TrimSpace(input.UserID),
		UserName:   strings.TrimSpace(input.UserName),
		UserEmail:  strings.TrimSpace(input.UserEmail),
		Location:   input.Location,
		Metadata:   input.Properties,
		OccurredAt: now,
		IngestedAt: now,
	}, nil
}

// persistAsync stores the event without blocking or failing the request.
// Touching the referenced session keeps active-user counts warm.
func (s *Service) persistAsync(event domain.AnalyticsEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.events.InsertEvent(ctx, &event); err != nil {
			s.logger.Warn("event persistence failed", "event_id", event.ID, "error", err)
		}
		if event.SessionID != "" {
			if err := s.sessions.TouchSession(ctx, event.SessionID, event.OccurredAt); err != nil {
				s.logger.Warn("session touch failed", "session_id", event.SessionID, "error", err)
			}
		}
	}()
}

func pageOrUnknown(page string) string {
	if page == "" {
		return "unknown page"
	}
	return page
}
