package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pulsehq/pulse/internal/domain"
)

type stubCollector struct {
	mu       sync.Mutex
	snapshot domain.MetricsSnapshot
	err      error
	calls    int
}

func (c *stubCollector) Collect(context.Context) (domain.MetricsSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return domain.MetricsSnapshot{Estimated: true}, c.err
	}
	return c.snapshot, nil
}

func (c *stubCollector) set(snapshot domain.MetricsSnapshot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot
	c.err = err
}

type memorySubscriber struct {
	mu       sync.Mutex
	frames   [][]byte
	failSend bool
	closed   bool
}

func (s *memorySubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return io.ErrClosedPipe
	}
	frame := make([]byte, len(payload))
	copy(frame, payload)
	s.frames = append(s.frames, frame)
	return nil
}

func (s *memorySubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *memorySubscriber) framesOfType(kind string) []envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []envelope
	for _, frame := range s.frames {
		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			continue
		}
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func newTestBroadcaster(t *testing.T, collector Collector, cfg Config) *Broadcaster {
	t.Helper()
	if collector == nil {
		collector = &stubCollector{}
	}
	return New(collector, nil, cfg)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRingBufferEvictsOldest(t *testing.T) {
	b := newTestBroadcaster(t, nil, Config{EventBufferCap: 1000})

	for i := 1; i <= 1005; i++ {
		b.handleEvent(domain.AnalyticsEvent{
			ID:     fmt.Sprintf("e%d", i),
			Type:   domain.EventPageView,
			Action: "view",
		})
	}

	events := b.recentEvents(0)
	if len(events) != 1000 {
		t.Fatalf("expected 1000 buffered events, got %d", len(events))
	}
	if events[0].ID != "e1005" {
		t.Errorf("expected newest event first, got %s", events[0].ID)
	}
	if events[len(events)-1].ID != "e6" {
		t.Errorf("expected oldest surviving event e6, got %s", events[len(events)-1].ID)
	}
}

func TestRecentEventsLimit(t *testing.T) {
	b := newTestBroadcaster(t, nil, Config{})
	for i := 1; i <= 10; i++ {
		b.handleEvent(domain.AnalyticsEvent{ID: fmt.Sprintf("e%d", i)})
	}
	events := b.recentEvents(3)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].ID != "e10" || events[2].ID != "e8" {
		t.Errorf("unexpected window: %s..%s", events[0].ID, events[2].ID)
	}
}

func TestAlertListBounded(t *testing.T) {
	b := newTestBroadcaster(t, nil, Config{AlertListCap: 20})
	for i := 1; i <= 25; i++ {
		b.handleAlert(domain.Alert{ID: fmt.Sprintf("a%d", i), Severity: domain.SeverityInfo})
	}
	alerts := b.recentAlerts(0)
	if len(alerts) != 20 {
		t.Fatalf("expected 20 alerts, got %d", len(alerts))
	}
	if alerts[0].ID != "a25" {
		t.Errorf("expected newest alert first, got %s", alerts[0].ID)
	}
	if alerts[19].ID != "a6" {
		t.Errorf("expected oldest surviving alert a6, got %s", alerts[19].ID)
	}
}

func TestRegisterSendsImmediateSnapshot(t *testing.T) {
	b := newTestBroadcaster(t, nil, Config{})
	b.latest = domain.MetricsSnapshot{ActiveUsers: 42, CapturedAt: time.Now()}
	b.hasSnapshot = true

	sub := &memorySubscriber{}
	b.addSubscriber(sub)

	frames := sub.framesOfType(MessageMetrics)
	if len(frames) != 1 {
		t.Fatalf("expected one metrics frame on register, got %d", len(frames))
	}
	var data struct {
		ActiveUsers int `json:"activeUsers"`
	}
	if err := json.Unmarshal(frames[0].Data, &data); err != nil {
		t.Fatalf("decode metrics data: %v", err)
	}
	if data.ActiveUsers != 42 {
		t.Errorf("expected activeUsers 42, got %d", data.ActiveUsers)
	}
	if len(sub.framesOfType(MessageUserCount)) != 1 {
		t.Error("expected a user_count frame after register")
	}
}

func TestRegisterBeforeFirstTickSendsPlaceholder(t *testing.T) {
	b := newTestBroadcaster(t, nil, Config{})
	sub := &memorySubscriber{}
	b.addSubscriber(sub)

	frames := sub.framesOfType(MessageMetrics)
	if len(frames) != 1 {
		t.Fatalf("expected placeholder metrics frame, got %d frames", len(frames))
	}
	var data struct {
		ActiveUsers int `json:"activeUsers"`
		Events      int `json:"events"`
	}
	if err := json.Unmarshal(frames[0].Data, &data); err != nil {
		t.Fatalf("decode metrics data: %v", err)
	}
	if data.ActiveUsers != 0 || data.Events != 0 {
		t.Error("placeholder snapshot should be zeroed")
	}
}

func TestRegisterClosesSubscriberOnFailedSnapshot(t *testing.T) {
	b := newTestBroadcaster(t, nil, Config{})
	broken := &memorySubscriber{failSend: true}

	b.addSubscriber(broken)

	if _, ok := b.subs[broken]; ok {
		t.Error("subscriber with a dead channel should not be retained")
	}
	if !broken.closed {
		t.Error("subscriber should be closed when the initial snapshot fails")
	}
}

func TestFanOutRemovesFailedSubscriber(t *testing.T) {
	b := newTestBroadcaster(t, nil, Config{})
	healthy := &memorySubscriber{}
	broken := &memorySubscriber{failSend: true}
	b.subs[healthy] = struct{}{}
	b.subs[broken] = struct{}{}

	b.handleEvent(domain.AnalyticsEvent{ID: "e1"})

	if _, ok := b.subs[broken]; ok {
		t.Error("failed subscriber should have been removed")
	}
	if !broken.closed {
		t.Error("failed subscriber should have been closed")
	}
	if _, ok := b.subs[healthy]; !ok {
		t.Error("healthy subscriber should remain")
	}
	if len(healthy.framesOfType(MessageEvent)) != 1 {
		t.Error("healthy subscriber should have received the event")
	}
}

func TestTickSkipsBroadcastOnCollectorError(t *testing.T) {
	collector := &stubCollector{}
	collector.set(domain.MetricsSnapshot{}, errors.New("db down"))
	b := newTestBroadcaster(t, collector, Config{})
	sub := &memorySubscriber{}
	b.subs[sub] = struct{}{}

	b.tick(context.Background())
	if b.hasSnapshot {
		t.Error("failed tick must not record a snapshot")
	}
	if n := len(sub.framesOfType(MessageMetrics)); n != 0 {
		t.Errorf("failed tick must not broadcast, got %d frames", n)
	}

	collector.set(domain.MetricsSnapshot{ActiveUsers: 7}, nil)
	b.tick(context.Background())
	if !b.hasSnapshot {
		t.Error("next tick should recover independently")
	}
	if n := len(sub.framesOfType(MessageMetrics)); n != 1 {
		t.Errorf("expected one metrics frame after recovery, got %d", n)
	}
}

func TestThresholdAlertsLatch(t *testing.T) {
	collector := &stubCollector{}
	b := newTestBroadcaster(t, collector, Config{ErrorRateWarnPct: 5, SystemLoadWarnPct: 90})

	collector.set(domain.MetricsSnapshot{ErrorRate: 6}, nil)
	b.tick(context.Background())
	b.tick(context.Background())
	if n := len(b.recentAlerts(0)); n != 1 {
		t.Fatalf("breach should alert once while latched, got %d alerts", n)
	}

	collector.set(domain.MetricsSnapshot{ErrorRate: 1}, nil)
	b.tick(context.Background())
	collector.set(domain.MetricsSnapshot{ErrorRate: 6}, nil)
	b.tick(context.Background())
	if n := len(b.recentAlerts(0)); n != 2 {
		t.Fatalf("recovery should re-arm the alert, got %d alerts", n)
	}
}

func TestThresholdAlertSeverityEscalates(t *testing.T) {
	collector := &stubCollector{}
	b := newTestBroadcaster(t, collector, Config{ErrorRateWarnPct: 5})

	collector.set(domain.MetricsSnapshot{ErrorRate: 12}, nil)
	b.tick(context.Background())
	alerts := b.recentAlerts(0)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityCritical {
		t.Errorf("expected critical severity at double threshold, got %s", alerts[0].Severity)
	}
}

func TestRunLifecycle(t *testing.T) {
	collector := &stubCollector{}
	collector.set(domain.MetricsSnapshot{ActiveUsers: 3}, nil)
	b := newTestBroadcaster(t, collector, Config{SnapshotInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	sub := &memorySubscriber{}
	b.Register(sub)
	waitFor(t, time.Second, func() bool { return b.SubscriberCount() == 1 })

	b.PublishEvent(domain.AnalyticsEvent{ID: "live1", Type: domain.EventUserAction, Action: "click"})
	waitFor(t, time.Second, func() bool { return len(sub.framesOfType(MessageEvent)) == 1 })

	b.PublishAlert(domain.Alert{ID: "alert1", Title: "x", Severity: domain.SeverityInfo})
	waitFor(t, time.Second, func() bool { return len(sub.framesOfType(MessageAlert)) == 1 })

	// Periodic snapshots arrive on top of the registration snapshot.
	waitFor(t, time.Second, func() bool { return len(sub.framesOfType(MessageMetrics)) >= 2 })

	cancel()
	waitFor(t, time.Second, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.closed
	})
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("expected zero subscribers after shutdown, got %d", got)
	}
}

func TestUnregisterBroadcastsUserCount(t *testing.T) {
	b := newTestBroadcaster(t, nil, Config{})
	first := &memorySubscriber{}
	second := &memorySubscriber{}
	b.addSubscriber(first)
	b.addSubscriber(second)
	before := len(first.framesOfType(MessageUserCount))

	b.removeSubscriber(second)
	counts := first.framesOfType(MessageUserCount)
	if len(counts) != before+1 {
		t.Fatalf("expected a user_count frame after unregister, got %d total", len(counts))
	}
	var data struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(counts[len(counts)-1].Data, &data); err != nil {
		t.Fatalf("decode user count: %v", err)
	}
	if data.Count != 1 {
		t.Errorf("expected count 1 after unregister, got %d", data.Count)
	}
}
