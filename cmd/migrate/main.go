package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/pulsehq/pulse/internal/app/migrate"
	"github.com/pulsehq/pulse/pkg/config"
	"github.com/pulsehq/pulse/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migration command: up, down, status")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("pulse-migrate", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	runner, err := migrate.NewRunner(cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		log.Error("migration setup failed", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Ping(ctx); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		err = runner.Ensure(ctx)
	case "down":
		err = runner.Down(ctx)
	case "status":
		err = runner.Status(ctx)
	default:
		log.Error("unknown command", "command", *command)
		os.Exit(2)
	}
	if err != nil {
		log.Error("migration failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration complete", "command", *command)
}
