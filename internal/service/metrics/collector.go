package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsehq/pulse/internal/domain"
)

const defaultActiveWindow = 5 * time.Minute

// StoreReader is the storage collaborator queried for aggregate counts.
type StoreReader interface {
	CountActiveSessions(ctx context.Context, since time.Time) (int, error)
	CountPageViewsSince(ctx context.Context, since time.Time) (int64, error)
	CountEventsSince(ctx context.Context, since time.Time) (int64, error)
}

// HealthSample carries locally observed service health figures.
type HealthSample struct {
	ResponseTimeMS float64
	ErrorRate      float64
	SystemLoad     float64
}

// HealthProbe supplies response-time, error-rate, and load figures. The
// default implementation estimates them locally; a real monitoring
// integration can be substituted without touching the broadcaster.
type HealthProbe interface {
	Sample(ctx context.Context) (HealthSample, error)
}

// RevenueSource supplies revenue and conversion totals for a trailing
// window. The default implementation derives estimates from conversion
// events; a billing integration can be substituted.
type RevenueSource interface {
	WindowTotals(ctx context.Context, since time.Time) (revenue float64, conversions int64, err error)
}

// Collector computes metrics snapshots on demand.
type Collector struct {
	store     StoreReader
	probe     HealthProbe
	revenue   RevenueSource
	window    time.Duration
	estimated bool
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a Collector. Nil probe or revenue collaborators fall back
// to local estimators and mark produced snapshots as estimated.
func New(store StoreReader, probe HealthProbe, revenue RevenueSource, window time.Duration, logger *slog.Logger) *Collector {
	if window <= 0 {
		window = defaultActiveWindow
	}
	estimated := false
	if probe == nil {
		probe = NewEstimatedHealthProbe()
		estimated = true
	}
	if revenue == nil {
		revenue = NewEstimatedRevenueSource(store)
		estimated = true
	}
	if logger != nil {
		logger = logger.With("component", "metrics_collector")
	} else {
		logger = slog.Default()
	}
	return &Collector{
		store:     store,
		probe:     probe,
		revenue:   revenue,
		window:    window,
		estimated: estimated,
		logger:    logger,
		now:       time.Now,
	}
}

// Collect computes a snapshot from the storage and health collaborators. A
// storage failure returns a zeroed, estimated-flagged snapshot together with
// the error so the broadcast loop can skip the tick instead of publishing
// figures mislabeled as fresh. Probe and revenue failures degrade the
// snapshot to estimated values without failing the collection.
func (c *Collector) Collect(ctx context.Context) (domain.MetricsSnapshot, error) {
	now := c.now().UTC()
	since := now.Add(-c.window)
	snapshot := domain.MetricsSnapshot{Estimated: c.estimated, CapturedAt: now}

	activeUsers, err := c.store.CountActiveSessions(ctx, since)
	if err != nil {
		return domain.MetricsSnapshot{Estimated: true, CapturedAt: now}, fmt.Errorf("count active sessions: %w", err)
	}
	pageViews, err := c.store.CountPageViewsSince(ctx, since)
	if err != nil {
		return domain.MetricsSnapshot{Estimated: true, CapturedAt: now}, fmt.Errorf("count page views: %w", err)
	}
	events, err := c.store.CountEventsSince(ctx, since)
	if err != nil {
		return domain.MetricsSnapshot{Estimated: true, CapturedAt: now}, fmt.Errorf("count events: %w", err)
	}
	snapshot.ActiveUsers = activeUsers
	snapshot.PageViews = pageViews
	snapshot.Events = events

	health, err := c.probe.Sample(ctx)
	if err != nil {
		c.logger.Warn("health probe failed, reporting estimated figures", "error", err)
		snapshot.Estimated = true
	} else {
		snapshot.ResponseTimeMS = health.ResponseTimeMS
		snapshot.ErrorRate = health.ErrorRate
		snapshot.SystemLoad = health.SystemLoad
	}

	revenue, conversions, err := c.revenue.WindowTotals(ctx, since)
	if err != nil {
		c.logger.Warn("revenue source failed, reporting estimated figures", "error", err)
		snapshot.Estimated = true
	} else {
		snapshot.Revenue = revenue
		snapshot.Conversions = conversions
	}
	return snapshot, nil
}
