package realtime

import (
	"math/rand"
	"sync"
	"time"
)

// SyntheticSource generates plausible drifting metrics for dashboards that
// lost both the channel and the polling endpoint. Samples are always flagged
// as estimated.
type SyntheticSource struct {
	mu     sync.Mutex
	random *rand.Rand

	activeUsers int
	pageViews   int64
	events      int64
	revenue     float64
	conversions int64
	errorRate   float64
	respTime    float64
	systemLoad  float64
}

// NewSyntheticSource seeds the generator with midrange values.
func NewSyntheticSource() *SyntheticSource {
	random := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &SyntheticSource{
		random:      random,
		activeUsers: 100 + random.Intn(900),
		pageViews:   int64(5000 + random.Intn(20000)),
		events:      int64(10000 + random.Intn(40000)),
		revenue:     float64(10000 + random.Intn(40000)),
		conversions: int64(100 + random.Intn(400)),
		errorRate:   0.5 + random.Float64(),
		respTime:    80 + random.Float64()*60,
		systemLoad:  30 + random.Float64()*20,
	}
}

// Sample returns the next point of the drift. Counters only grow; gauges walk
// within realistic bounds and active users never drop below 100.
func (s *SyntheticSource) Sample() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeUsers += s.random.Intn(41) - 20
	if s.activeUsers < 100 {
		s.activeUsers = 100
	}
	if s.activeUsers > 2000 {
		s.activeUsers = 2000
	}
	s.pageViews += int64(s.random.Intn(50))
	s.events += int64(s.random.Intn(120))
	s.revenue += s.random.Float64() * 500
	s.conversions += int64(s.random.Intn(3))
	s.errorRate = clampFloat(s.errorRate+s.random.Float64()*0.6-0.3, 0, 8)
	s.respTime = clampFloat(s.respTime+s.random.Float64()*20-10, 40, 400)
	s.systemLoad = clampFloat(s.systemLoad+s.random.Float64()*8-4, 10, 95)

	return Metrics{
		ActiveUsers:  s.activeUsers,
		PageViews:    s.pageViews,
		Events:       s.events,
		Revenue:      s.revenue,
		Conversions:  s.conversions,
		ErrorRate:    s.errorRate,
		ResponseTime: s.respTime,
		SystemLoad:   s.systemLoad,
		Estimated:    true,
		Timestamp:    time.Now().UnixMilli(),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
