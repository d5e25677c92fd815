package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const (
	dashboardEventCap   = 50
	dashboardAlertCap   = 20
	dashboardHistoryCap = 120
)

// DashboardConfig assembles the client, poller, and fallback behaviour.
type DashboardConfig struct {
	// SocketURL is the websocket endpoint for live updates.
	SocketURL string
	// APIBaseURL serves the polling fallback.
	APIBaseURL string
	Token      string
	// EnablePolling activates the HTTP fallback when the channel is down.
	EnablePolling        bool
	PollInterval         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Logger               *slog.Logger
}

// Dashboard consumes the realtime channel and maintains the rolling state a
// UI renders: latest metrics, recent events, active alerts, viewer count, and
// a bounded metrics history. When the channel degrades it transparently
// switches to polling, and to synthetic data beneath that.
type Dashboard struct {
	client *Client
	poller *Poller
	logger *slog.Logger

	enablePolling bool

	mu          sync.Mutex
	metrics     *Metrics
	events      []Event
	alerts      []Alert
	userCount   int
	history     []Metrics
	lastUpdated time.Time
}

// NewDashboard wires up the dashboard consumer.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dashboard{
		logger:        logger.With("component", "dashboard"),
		enablePolling: cfg.EnablePolling,
	}
	d.client = NewClient(Config{
		URL:                  cfg.SocketURL,
		Token:                cfg.Token,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               logger,
	})
	d.poller = NewPoller(NewHTTPMetricsFetcher(cfg.APIBaseURL, cfg.Token), cfg.PollInterval, logger)

	d.client.On(SignalMessage, d.handleMessage)
	d.client.On(SignalConnected, func(any) {
		d.poller.Stop()
	})
	d.client.On(SignalReconnectFailed, func(any) {
		d.startPolling()
	})
	return d
}

// Connect opens the realtime channel. When the initial dial fails, automatic
// reconnection begins and the polling fallback (if enabled) bridges the gap.
func (d *Dashboard) Connect(ctx context.Context) error {
	err := d.client.Connect(ctx)
	if err != nil {
		d.startPolling()
	}
	return err
}

// Disconnect closes the channel without reconnection.
func (d *Dashboard) Disconnect() {
	d.client.Disconnect()
	d.poller.Stop()
}

// Reconnect resets the reconnect budget and dials again.
func (d *Dashboard) Reconnect(ctx context.Context) error {
	return d.client.Reconnect(ctx)
}

// Close shuts everything down.
func (d *Dashboard) Close() {
	d.poller.Stop()
	d.client.Close()
}

// SendMessage forwards a message to the server. Messages are droppable; a
// down channel logs a warning instead of erroring.
func (d *Dashboard) SendMessage(v any) {
	if err := d.client.Send(v); err != nil {
		d.logger.Warn("message dropped", "error", err)
	}
}

// IsConnected reports whether the live channel is open.
func (d *Dashboard) IsConnected() bool {
	return d.client.IsConnected()
}

// ConnectionStatus reports the channel lifecycle state.
func (d *Dashboard) ConnectionStatus() Status {
	return d.client.Status()
}

// Metrics returns the latest snapshot, if one arrived yet.
func (d *Dashboard) Metrics() (Metrics, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.metrics == nil {
		return Metrics{}, false
	}
	return *d.metrics, true
}

// Events returns the rolling recent event list, newest first.
func (d *Dashboard) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// FilterEvents returns recent events of one type, newest first.
func (d *Dashboard) FilterEvents(eventType string) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Event
	for _, event := range d.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// Alerts returns the active alert list, newest first.
func (d *Dashboard) Alerts() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}

// UserCount reports how many dashboard viewers are connected.
func (d *Dashboard) UserCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userCount
}

// MetricHistory returns the bounded snapshot history, oldest first. Useful
// for sparkline rendering.
func (d *Dashboard) MetricHistory() []Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Metrics, len(d.history))
	copy(out, d.history)
	return out
}

// LastUpdated reports when any state last changed.
func (d *Dashboard) LastUpdated() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUpdated
}

func (d *Dashboard) startPolling() {
	if !d.enablePolling {
		return
	}
	d.poller.Start(d.applyMetrics)
}

func (d *Dashboard) handleMessage(payload any) {
	env, ok := payload.(Envelope)
	if !ok {
		return
	}
	switch env.Type {
	case KindMetrics:
		var metrics Metrics
		if err := json.Unmarshal(env.Data, &metrics); err != nil {
			d.logger.Warn("bad metrics payload", "error", err)
			return
		}
		d.applyMetrics(metrics)
	case KindEvent:
		var event Event
		if err := json.Unmarshal(env.Data, &event); err != nil {
			d.logger.Warn("bad event payload", "error", err)
			return
		}
		d.mu.Lock()
		d.events = append([]Event{event}, d.events...)
		if len(d.events) > dashboardEventCap {
			d.events = d.events[:dashboardEventCap]
		}
		d.lastUpdated = time.Now()
		d.mu.Unlock()
	case KindAlert:
		var alert Alert
		if err := json.Unmarshal(env.Data, &alert); err != nil {
			d.logger.Warn("bad alert payload", "error", err)
			return
		}
		d.mu.Lock()
		d.alerts = append([]Alert{alert}, d.alerts...)
		if len(d.alerts) > dashboardAlertCap {
			d.alerts = d.alerts[:dashboardAlertCap]
		}
		d.lastUpdated = time.Now()
		d.mu.Unlock()
	case KindUserCount:
		var count UserCount
		if err := json.Unmarshal(env.Data, &count); err != nil {
			d.logger.Warn("bad user count payload", "error", err)
			return
		}
		d.mu.Lock()
		d.userCount = count.Count
		d.lastUpdated = time.Now()
		d.mu.Unlock()
	}
}

func (d *Dashboard) applyMetrics(metrics Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = &metrics
	d.history = append(d.history, metrics)
	if len(d.history) > dashboardHistoryCap {
		d.history = d.history[1:]
	}
	d.lastUpdated = time.Now()
}
