// Command notifications_poll scans for due work forever, sleeping POLL_DELAY
// between scans. With no WORK_ENGINE_URL it also runs the delivery tasks on
// an in-process worker pool.
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

	pool := a.NewPool()
	if pool != nil {
		pool.Start(ctx)
	}

	a.Poller().Run(ctx)

	if pool != nil {
		pool.Wait()
	}
	logger.Info("poller stopped cleanly")
}
