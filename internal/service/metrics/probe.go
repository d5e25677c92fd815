package metrics

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"time"
)

// EstimatedHealthProbe derives bounded pseudo-realistic health figures from
// process state plus a random walk. Snapshots built from it are flagged as
// estimated; it exists so dashboards show live motion before a real
// monitoring integration is wired in.
type EstimatedHealthProbe struct {
	mu      sync.Mutex
	random  *rand.Rand
	respMS  float64
	errRate float64
	sysLoad float64
}

// NewEstimatedHealthProbe seeds the probe with midpoint values.
func NewEstimatedHealthProbe() *EstimatedHealthProbe {
	return &EstimatedHealthProbe{
		random:  rand.New(rand.NewSource(time.Now().UnixNano())),
		respMS:  120,
		errRate: 1,
		sysLoad: 45,
	}
}

// Sample returns the next point of the random walk. Goroutine count nudges
// the load figure so the estimate tracks real process pressure a little.
func (p *EstimatedHealthProbe) Sample(ctx context.Context) (HealthSample, error) {
	if err := ctx.Err(); err != nil {
		return HealthSample{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.respMS = clamp(p.respMS+p.random.Float64()*30-15, 40, 400)
	p.errRate = clamp(p.errRate+p.random.Float64()*0.8-0.4, 0, 8)
	loadNudge := float64(runtime.NumGoroutine()) / 50
	p.sysLoad = clamp(p.sysLoad+p.random.Float64()*10-5+loadNudge, 10, 95)

	return HealthSample{
		ResponseTimeMS: p.respMS,
		ErrorRate:      p.errRate,
		SystemLoad:     p.sysLoad,
	}, nil
}

// EstimatedRevenueSource approximates revenue from conversion volume using a
// flat average order value. Replaced by the billing integration in
// production deployments.
type EstimatedRevenueSource struct {
	store         StoreReader
	avgOrderValue float64
}

// NewEstimatedRevenueSource builds the fallback revenue estimator.
func NewEstimatedRevenueSource(store StoreReader) *EstimatedRevenueSource {
	return &EstimatedRevenueSource{store: store, avgOrderValue: 49.90}
}

// WindowTotals estimates revenue as conversions times the average order
// value. Conversion volume is approximated from total event counts since the
// store does not break counts down by type here.
func (s *EstimatedRevenueSource) WindowTotals(ctx context.Context, since time.Time) (float64, int64, error) {
	if s.store == nil {
		return 0, 0, nil
	}
	events, err := s.store.CountEventsSince(ctx, since)
	if err != nil {
		return 0, 0, err
	}
	conversions := events / 25
	return float64(conversions) * s.avgOrderValue, conversions, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
