// Command notifications_dispatch runs a single scan and exits. It suits
// cron-style schedulers. With no WORK_ENGINE_URL the issued delivery tasks
// run before the process exits.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/app"
	"github.com/notifyhub/torque-notifications/internal/config"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	res, err := a.Poller().RunOnce(ctx)
	if err != nil {
		logger.Fatal("scan failed", zap.Error(err))
	}

	ran := a.DrainLocal(ctx)
	logger.Info("dispatch finished",
		zap.Int("spawned", res.Spawned),
		zap.Int("tasks", res.Tasks),
		zap.Int("enqueued", res.Enqueued),
		zap.Int("ran_locally", ran),
	)
}
