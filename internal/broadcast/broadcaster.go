package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/domain"
)

// Message kinds carried by the realtime channel envelope.
const (
	MessageMetrics   = "metrics"
	MessageEvent     = "event"
	MessageAlert     = "alert"
	MessageUserCount = "user_count"
)

const (
	defaultSnapshotInterval = 2 * time.Second
	defaultEventBufferCap   = 1000
	defaultAlertListCap     = 20
	defaultErrorRateWarn    = 5.0
	defaultSystemLoadWarn   = 90.0

	eventQueueSize = 256
	alertQueueSize = 16
)

// Subscriber abstracts a streaming dashboard client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Collector produces the periodic metrics snapshot.
type Collector interface {
	Collect(ctx context.Context) (domain.MetricsSnapshot, error)
}

// Config tunes buffer capacities and the snapshot cadence.
type Config struct {
	SnapshotInterval  time.Duration
	EventBufferCap    int
	AlertListCap      int
	ErrorRateWarnPct  float64
	SystemLoadWarnPct float64
}

// Broadcaster owns the subscriber set, the bounded event ring buffer, and the
// alert list. All mutation happens on the Run goroutine; the exported methods
// communicate with it over channels, so fan-out never interleaves with
// insertion.
type Broadcaster struct {
	collector Collector
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	register   chan Subscriber
	unregister chan Subscriber
	events     chan domain.AnalyticsEvent
	alertQueue chan domain.Alert
	queries    chan func()
	done       chan struct{}

	// Run-goroutine owned state.
	subs        map[Subscriber]struct{}
	ring        []domain.AnalyticsEvent
	head        int
	count       int
	alerts      []domain.Alert
	latest      domain.MetricsSnapshot
	hasSnapshot bool

	errorRateHigh  bool
	systemLoadHigh bool
}

// New constructs a Broadcaster. Run must be started before Register or
// Publish calls are useful.
func New(collector Collector, logger *slog.Logger, cfg Config) *Broadcaster {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	if cfg.EventBufferCap <= 0 {
		cfg.EventBufferCap = defaultEventBufferCap
	}
	if cfg.AlertListCap <= 0 {
		cfg.AlertListCap = defaultAlertListCap
	}
	if cfg.ErrorRateWarnPct <= 0 {
		cfg.ErrorRateWarnPct = defaultErrorRateWarn
	}
	if cfg.SystemLoadWarnPct <= 0 {
		cfg.SystemLoadWarnPct = defaultSystemLoadWarn
	}
	if logger != nil {
		logger = logger.With("component", "broadcaster")
	} else {
		logger = slog.Default()
	}
	initMetrics()
	return &Broadcaster{
		collector:  collector,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		register:   make(chan Subscriber),
		unregister: make(chan Subscriber),
		events:     make(chan domain.AnalyticsEvent, eventQueueSize),
		alertQueue: make(chan domain.Alert, alertQueueSize),
		queries:    make(chan func()),
		done:       make(chan struct{}),
		subs:       make(map[Subscriber]struct{}),
		ring:       make([]domain.AnalyticsEvent, cfg.EventBufferCap),
	}
}

// Run drives the broadcaster until the context is cancelled. It is the only
// goroutine that touches the subscriber set, ring buffer, and alert list.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	b.logger.Info("broadcaster started",
		"snapshot_interval", b.cfg.SnapshotInterval,
		"event_buffer_cap", b.cfg.EventBufferCap,
		"alert_list_cap", b.cfg.AlertListCap)

	ticker := time.NewTicker(b.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for sub := range b.subs {
				sub.Close()
				delete(b.subs, sub)
			}
			subscriberGauge.Set(0)
			b.logger.Info("broadcaster stopped")
			return
		case sub := <-b.register:
			b.addSubscriber(sub)
		case sub := <-b.unregister:
			b.removeSubscriber(sub)
		case event := <-b.events:
			b.handleEvent(event)
		case alert := <-b.alertQueue:
			b.handleAlert(alert)
		case fn := <-b.queries:
			fn()
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// Register adds a subscriber. The most recent snapshot (or a zeroed
// placeholder before the first tick) is sent immediately so new dashboards
// are never blank.
func (b *Broadcaster) Register(sub Subscriber) {
	select {
	case b.register <- sub:
	case <-b.done:
	}
}

// Unregister removes a subscriber. The caller owns closing its connection.
func (b *Broadcaster) Unregister(sub Subscriber) {
	select {
	case b.unregister <- sub:
	case <-b.done:
	}
}

// PublishEvent appends to the ring buffer and fans the event out. Never
// blocks the caller: when the broadcaster cannot keep up the event is dropped
// from the live stream (it is still persisted by the ingestion layer).
func (b *Broadcaster) PublishEvent(event domain.AnalyticsEvent) {
	select {
	case b.events <- event:
	case <-b.done:
	default:
		droppedTotal.Inc()
		b.logger.Warn("event queue full, dropping live event", "event_id", event.ID)
	}
}

// PublishAlert appends to the bounded alert list and fans out immediately.
func (b *Broadcaster) PublishAlert(alert domain.Alert) {
	select {
	case b.alertQueue <- alert:
	case <-b.done:
	default:
		droppedTotal.Inc()
		b.logger.Warn("alert queue full, dropping alert", "alert_id", alert.ID)
	}
}

// RecentEvents returns up to n buffered events, newest first.
func (b *Broadcaster) RecentEvents(n int) []domain.AnalyticsEvent {
	out := make(chan []domain.AnalyticsEvent, 1)
	select {
	case b.queries <- func() { out <- b.recentEvents(n) }:
		return <-out
	case <-b.done:
		return nil
	}
}

// RecentAlerts returns up to n alerts, newest first.
func (b *Broadcaster) RecentAlerts(n int) []domain.Alert {
	out := make(chan []domain.Alert, 1)
	select {
	case b.queries <- func() { out <- b.recentAlerts(n) }:
		return <-out
	case <-b.done:
		return nil
	}
}

// LatestSnapshot returns the last broadcast snapshot, if any tick succeeded yet.
func (b *Broadcaster) LatestSnapshot() (domain.MetricsSnapshot, bool) {
	type result struct {
		snapshot domain.MetricsSnapshot
		ok       bool
	}
	out := make(chan result, 1)
	select {
	case b.queries <- func() { out <- result{b.latest, b.hasSnapshot} }:
		r := <-out
		return r.snapshot, r.ok
	case <-b.done:
		return domain.MetricsSnapshot{}, false
	}
}

// SubscriberCount reports the number of open channels.
func (b *Broadcaster) SubscriberCount() int {
	out := make(chan int, 1)
	select {
	case b.queries <- func() { out <- len(b.subs) }:
		return <-out
	case <-b.done:
		return 0
	}
}

func (b *Broadcaster) addSubscriber(sub Subscriber) {
	b.subs[sub] = struct{}{}
	subscriberGauge.Set(float64(len(b.subs)))

	snapshot := b.latest
	if !b.hasSnapshot {
		snapshot = domain.MetricsSnapshot{CapturedAt: b.now()}
	}
	payload, err := marshalEnvelope(MessageMetrics, MetricsPayload(snapshot), b.now())
	if err == nil {
		if err := sub.Send(payload); err != nil {
			sub.Close()
			delete(b.subs, sub)
			subscriberGauge.Set(float64(len(b.subs)))
			return
		}
	}
	b.fanOut(MessageUserCount, map[string]any{"count": len(b.subs)})
}

func (b *Broadcaster) removeSubscriber(sub Subscriber) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	subscriberGauge.Set(float64(len(b.subs)))
	b.fanOut(MessageUserCount, map[string]any{"count": len(b.subs)})
}

func (b *Broadcaster) handleEvent(event domain.AnalyticsEvent) {
	b.ring[b.head] = event
	b.head = (b.head + 1) % b.cfg.EventBufferCap
	if b.count < b.cfg.EventBufferCap {
		b.count++
	}
	b.fanOut(MessageEvent, EventPayload(event))
}

func (b *Broadcaster) handleAlert(alert domain.Alert) {
	b.alerts = append([]domain.Alert{alert}, b.alerts...)
	if len(b.alerts) > b.cfg.AlertListCap {
		b.alerts = b.alerts[:b.cfg.AlertListCap]
	}
	b.fanOut(MessageAlert, AlertPayload(alert))
}

// tick recomputes a snapshot and broadcasts it. A failed collection skips the
// broadcast for this tick only; the next tick retries independently. The
// collect call is bounded by the tick interval so a slow storage backend
// cannot queue concurrent snapshot computations.
func (b *Broadcaster) tick(ctx context.Context) {
	collectCtx, cancel := context.WithTimeout(ctx, b.cfg.SnapshotInterval)
	snapshot, err := b.collector.Collect(collectCtx)
	cancel()
	if err != nil {
		b.logger.Warn("snapshot collection failed, skipping broadcast", "error", err)
		return
	}
	b.latest = snapshot
	b.hasSnapshot = true
	b.fanOut(MessageMetrics, MetricsPayload(snapshot))
	b.evaluateThresholds(snapshot)
}

// evaluateThresholds raises latched alerts when a snapshot crosses the
// configured error-rate or system-load limits. Each breach alerts once until
// the metric recovers.
func (b *Broadcaster) evaluateThresholds(s domain.MetricsSnapshot) {
	if s.ErrorRate >= b.cfg.ErrorRateWarnPct {
		if !b.errorRateHigh {
			b.errorRateHigh = true
			severity := domain.SeverityWarning
			if s.ErrorRate >= 2*b.cfg.ErrorRateWarnPct {
				severity = domain.SeverityCritical
			}
			b.handleAlert(domain.Alert{
				ID:        uuid.NewString(),
				Title:     "Elevated error rate",
				Message:   fmt.Sprintf("error rate at %.1f%% (threshold %.1f%%)", s.ErrorRate, b.cfg.ErrorRateWarnPct),
				Severity:  severity,
				CreatedAt: b.now(),
			})
		}
	} else {
		b.errorRateHigh = false
	}

	if s.SystemLoad >= b.cfg.SystemLoadWarnPct {
		if !b.systemLoadHigh {
			b.systemLoadHigh = true
			b.handleAlert(domain.Alert{
				ID:        uuid.NewString(),
				Title:     "High system load",
				Message:   fmt.Sprintf("system load at %.0f%% (threshold %.0f%%)", s.SystemLoad, b.cfg.SystemLoadWarnPct),
				Severity:  domain.SeverityWarning,
				CreatedAt: b.now(),
			})
		}
	} else {
		b.systemLoadHigh = false
	}
}

func (b *Broadcaster) fanOut(kind string, data any) {
	if len(b.subs) == 0 {
		return
	}
	payload, err := marshalEnvelope(kind, data, b.now())
	if err != nil {
		b.logger.Warn("failed to marshal broadcast payload", "kind", kind, "error", err)
		return
	}
	for sub := range b.subs {
		if err := sub.Send(payload); err != nil {
			sub.Close()
			delete(b.subs, sub)
		}
	}
	subscriberGauge.Set(float64(len(b.subs)))
	messagesTotal.WithLabelValues(kind).Inc()
}

func (b *Broadcaster) recentEvents(n int) []domain.AnalyticsEvent {
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]domain.AnalyticsEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.cfg.EventBufferCap) % b.cfg.EventBufferCap
		out = append(out, b.ring[idx])
	}
	return out
}

func (b *Broadcaster) recentAlerts(n int) []domain.Alert {
	if n <= 0 || n > len(b.alerts) {
		n = len(b.alerts)
	}
	out := make([]domain.Alert, n)
	copy(out, b.alerts[:n])
	return out
}
