package db

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/config"
	"github.com/notifyhub/torque-notifications/internal/repository"
)

const sqliteScheme = "sqlite://"

// OpenStore picks the backend from the DATABASE_URL scheme. PostgreSQL is
// migrated with golang-migrate before use; SQLite applies its own schema.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	if path, ok := strings.CutPrefix(cfg.DatabaseURL, sqliteScheme); ok {
		if path == "" {
			path = ":memory:"
		}
		store, err := repository.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		logger.Info("using embedded sqlite store", zap.String("path", path))
		return store, nil
	}

	if err := Migrate(cfg); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migrations applied")

	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected")
	return repository.NewPgStore(pool), nil
}
