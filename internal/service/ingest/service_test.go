package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pulsehq/pulse/internal/domain"
	"github.com/pulsehq/pulse/internal/repository"
)

type stubEventRepo struct {
	mu        sync.Mutex
	inserted  []domain.AnalyticsEvent
	insertErr error
}

func (r *stubEventRepo) InsertEvent(_ context.Context, event *domain.AnalyticsEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, *event)
	return nil
}

func (r *stubEventRepo) ListEvents(context.Context, string, int, int) ([]domain.AnalyticsEvent, error) {
	return nil, nil
}

func (r *stubEventRepo) CountEventsSince(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *stubEventRepo) CountPageViewsSince(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *stubEventRepo) insertedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inserted)
}

type stubSessionRepo struct {
	mu       sync.Mutex
	upserted []domain.Session
	touched  []string
	ended    *domain.Session
	endErr   error
}

func (r *stubSessionRepo) UpsertSession(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted = append(r.upserted, *session)
	return nil
}

func (r *stubSessionRepo) TouchSession(_ context.Context, sessionID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, sessionID)
	return nil
}

func (r *stubSessionRepo) EndSession(_ context.Context, sessionID, exitPage string, at time.Time) (*domain.Session, error) {
	if r.endErr != nil {
		return nil, r.endErr
	}
	if r.ended != nil {
		out := *r.ended
		out.ExitPage = exitPage
		return &out, nil
	}
	duration := int64(90_000)
	return &domain.Session{SessionID: sessionID, ExitPage: exitPage, EndedAt: &at, DurationMS: &duration}, nil
}

func (r *stubSessionRepo) CountActiveSessions(context.Context, time.Time) (int, error) {
	return 0, nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.AnalyticsEvent
	alerts []domain.Alert
}

func (p *stubPublisher) PublishEvent(event domain.AnalyticsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *stubPublisher) PublishAlert(alert domain.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
}

func newTestService() (*Service, *stubEventRepo, *stubSessionRepo, *stubPublisher) {
	events := &stubEventRepo{}
	sessions := &stubSessionRepo{}
	publisher := &stubPublisher{}
	return New(events, sessions, publisher, nil), events, sessions, publisher
}

func TestTrackValidEvent(t *testing.T) {
	svc, events, sessions, publisher := newTestService()

	event, err := svc.Track(context.Background(), TrackInput{
		EventType: "page_view",
		EventName: "viewed pricing",
		Page:      "/pricing",
		SessionID: "sess-1",
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID == "" {
		t.Error("event should get an id assigned")
	}
	if event.Type != domain.EventPageView {
		t.Errorf("unexpected type %s", event.Type)
	}
	svc.Wait()

	if events.insertedCount() != 1 {
		t.Errorf("expected one persisted event, got %d", events.insertedCount())
	}
	sessions.mu.Lock()
	touched := len(sessions.touched)
	sessions.mu.Unlock()
	if touched != 1 {
		t.Errorf("expected session touch, got %d", touched)
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.events) != 1 {
		t.Errorf("expected live publish, got %d", len(publisher.events))
	}
	if len(publisher.alerts) != 0 {
		t.Errorf("page view must not raise alerts, got %d", len(publisher.alerts))
	}
}

func TestTrackRejectsUnknownType(t *testing.T) {
	svc, events, _, publisher := newTestService()

	_, err := svc.Track(context.Background(), TrackInput{EventType: "telemetry", EventName: "x"})
	if err == nil {
		t.Fatal("expected validation error for unknown event type")
	}
	svc.Wait()
	if events.insertedCount() != 0 {
		t.Error("invalid events must not be persisted")
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.events) != 0 {
		t.Error("invalid events must not be published")
	}
}

func TestTrackRejectsMissingName(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.Track(context.Background(), TrackInput{EventType: "auth"}); err == nil {
		t.Fatal("expected validation error for missing event name")
	}
}

func TestTrackErrorEventRaisesAlert(t *testing.T) {
	svc, _, _, publisher := newTestService()

	_, err := svc.Track(context.Background(), TrackInput{
		EventType: "error",
		EventName: "TypeError: undefined",
		Page:      "/checkout",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.Wait()
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(publisher.alerts))
	}
	if publisher.alerts[0].Severity != domain.SeverityWarning {
		t.Errorf("expected warning severity, got %s", publisher.alerts[0].Severity)
	}
}

func TestTrackBatchPartialSuccess(t *testing.T) {
	svc, events, _, _ := newTestService()

	inputs := []TrackInput{
		{EventType: "page_view", EventName: "a"},
		{EventType: "bogus", EventName: "b"},
		{EventType: "conversion", EventName: "c"},
		{EventType: "user_action"},
	}
	result := svc.TrackBatch(context.Background(), inputs)
	svc.Wait()

	if result.Successful != 2 {
		t.Errorf("expected 2 successful, got %d", result.Successful)
	}
	if result.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", result.Failed)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 error entries, got %d", len(result.Errors))
	}
	if result.Errors[0].Index != 1 || result.Errors[1].Index != 3 {
		t.Errorf("error indexes wrong: %+v", result.Errors)
	}
	if events.insertedCount() != 2 {
		t.Errorf("only valid items should persist, got %d", events.insertedCount())
	}
}

func TestTrackSurvivesPersistenceFailure(t *testing.T) {
	events := &stubEventRepo{insertErr: context.DeadlineExceeded}
	svc := New(events, &stubSessionRepo{}, &stubPublisher{}, nil)

	if _, err := svc.Track(context.Background(), TrackInput{EventType: "auth", EventName: "login"}); err != nil {
		t.Fatalf("storage failure must not fail tracking: %v", err)
	}
	svc.Wait()
}

func TestStartSessionRequiresID(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.StartSession(context.Background(), StartSessionInput{}); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestStartSessionUpserts(t *testing.T) {
	svc, _, sessions, _ := newTestService()

	session, err := svc.StartSession(context.Background(), StartSessionInput{
		SessionID: "sess-9",
		EntryPage: "/",
		UTMSource: "newsletter",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID == "" {
		t.Error("session should get an id assigned")
	}
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if len(sessions.upserted) != 1 {
		t.Fatalf("expected one upsert, got %d", len(sessions.upserted))
	}
	if sessions.upserted[0].UTMSource != "newsletter" {
		t.Errorf("utm source lost: %+v", sessions.upserted[0])
	}
}

func TestEndSession(t *testing.T) {
	svc, _, _, _ := newTestService()

	session, err := svc.EndSession(context.Background(), "sess-9", "/bye")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ExitPage != "/bye" {
		t.Errorf("exit page not recorded: %+v", session)
	}
	if session.DurationMS == nil || *session.DurationMS != 90_000 {
		t.Error("expected computed duration")
	}
}

func TestEndSessionNotFound(t *testing.T) {
	sessions := &stubSessionRepo{endErr: repository.ErrNotFound}
	svc := New(&stubEventRepo{}, sessions, nil, nil)

	if _, err := svc.EndSession(context.Background(), "missing", ""); err != repository.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEndSessionRequiresID(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.EndSession(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for blank session id")
	}
}
