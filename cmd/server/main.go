package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/api"
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

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	// Without a work engine the local pool runs the tasks the poller
	// enqueues, so the poller must share this process (POLL_IN_SERVER).
	pool := a.NewPool()
	if pool != nil {
		pool.Start(workerCtx)
		if !cfg.PollInServer {
			logger.Warn("local task engine without POLL_IN_SERVER: tasks from a separate poller never reach this pool")
		}
	}
	if cfg.PollInServer {
		go a.Poller().Run(workerCtx)
	}

	router := api.NewRouter(a.Services(), a.QueueDepths(), a.Gatherer, cfg.WebhookSecret, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the poller and the local workers.
	cancelWorkers()

	// 3. Let in-flight delivery tasks finish.
	if pool != nil {
		pool.Wait()
	}

	logger.Info("server stopped cleanly")
}
