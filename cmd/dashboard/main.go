package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsehq/pulse/pkg/config"
	"github.com/pulsehq/pulse/pkg/logger"
	"github.com/pulsehq/pulse/pkg/realtime"
)

// A terminal consumer of the realtime channel. Renders the latest snapshot
// and recent activity on an interval, exercising the same client library a
// UI would embed.
func main() {
	cfg := config.LoadDashboardConfig()
	log := logger.New("pulse-dashboard", logger.ParseLevel(config.GetString("LOG_LEVEL", "warn")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dashboard := realtime.NewDashboard(realtime.DashboardConfig{
		SocketURL:            cfg.SocketURL,
		APIBaseURL:           cfg.APIBaseURL,
		Token:                cfg.Token,
		EnablePolling:        cfg.EnablePolling,
		PollInterval:         cfg.PollInterval,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               log,
	})
	defer dashboard.Close()

	if err := dashboard.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "live channel unavailable: %v (falling back)\n", err)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nbye")
			return
		case <-ticker.C:
			render(dashboard)
		}
	}
}

func render(d *realtime.Dashboard) {
	metrics, ok := d.Metrics()
	if !ok {
		fmt.Printf("[%s] waiting for data...\n", d.ConnectionStatus())
		return
	}
	source := "live"
	if !d.IsConnected() {
		source = "fallback"
	}
	if metrics.Estimated {
		source += " (estimated)"
	}
	fmt.Printf("[%s] users=%d views=%d events=%d revenue=%.2f err=%.1f%% load=%.0f%% viewers=%d\n",
		source,
		metrics.ActiveUsers,
		metrics.PageViews,
		metrics.Events,
		metrics.Revenue,
		metrics.ErrorRate,
		metrics.SystemLoad,
		d.UserCount(),
	)
	for i, alert := range d.Alerts() {
		if i == 3 {
			break
		}
		fmt.Printf("  ! [%s] %s: %s\n", alert.Severity, alert.Title, alert.Message)
	}
}
