package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultPollInterval = 10 * time.Second

// MetricsFetcher retrieves a snapshot over a request/response transport.
type MetricsFetcher interface {
	Fetch(ctx context.Context) (Metrics, error)
}

// HTTPMetricsFetcher polls the REST metrics endpoint.
type HTTPMetricsFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPMetricsFetcher builds a fetcher for the given API base URL.
func NewHTTPMetricsFetcher(baseURL, token string) *HTTPMetricsFetcher {
	return &HTTPMetricsFetcher{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Fetch requests the current snapshot.
func (f *HTTPMetricsFetcher) Fetch(ctx context.Context) (Metrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/analytics/metrics", nil)
	if err != nil {
		return Metrics{}, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Metrics{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Metrics{}, fmt.Errorf("metrics endpoint returned %d", resp.StatusCode)
	}
	var metrics Metrics
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return Metrics{}, fmt.Errorf("decode metrics: %w", err)
	}
	return metrics, nil
}

// Poller is the degraded-mode metrics loop. While running it fetches on a
// fixed interval; when the fetch also fails it falls back to synthetic data
// so the dashboard keeps moving.
type Poller struct {
	fetcher  MetricsFetcher
	synth    *SyntheticSource
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

// NewPoller builds a poller. A zero interval selects the 10 second default.
func NewPoller(fetcher MetricsFetcher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher:  fetcher,
		synth:    NewSyntheticSource(),
		interval: interval,
		logger:   logger.With("component", "poller"),
	}
}

// Start begins polling and delivers a sample immediately, then on every
// interval. Starting an already-running poller is a no-op; there is never
// more than one loop.
func (p *Poller) Start(deliver func(Metrics)) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	p.logger.Info("polling fallback started", "interval", p.interval)
	go func() {
		deliver(p.sample())
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				deliver(p.sample())
			}
		}
	}()
}

// Stop halts the polling loop. Safe to call when not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
	p.logger.Info("polling fallback stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) sample() Metrics {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()
	if p.fetcher != nil {
		metrics, err := p.fetcher.Fetch(ctx)
		if err == nil {
			return metrics
		}
		p.logger.Warn("metrics poll failed, using synthetic data", "error", err)
	}
	return p.synth.Sample()
}
