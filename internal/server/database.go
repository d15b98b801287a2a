package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/infoburn/internal/common"
	repo "github.com/joseph-ayodele/infoburn/internal/repository"
)

// ConnectDB opens the database, pings it and applies migrations.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.DB, error) {
	logger.Info("connecting to database", "dialect_hint", dsnKind(cfg.DSN))
	db, err := repo.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	if err := PingDB(ctx, db, logger, 5*time.Second); err != nil {
		db.Close(logger)
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		db.Close(logger)
		return nil, err
	}
	logger.Info("successfully connected to database", "dialect", db.Dialect())
	return db, nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repo.DB, logger *slog.Logger, timeout time.Duration) error {
	logger.Debug("pinging database")
	if err := db.HealthCheck(ctx, timeout, logger); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

// OpenRecordStore returns the configured record store and its closer.
func OpenRecordStore(ctx context.Context, cfg common.StoreConfig, db *repo.DB, logger *slog.Logger) (repo.RecordStore, func(), error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "sql":
		return repo.NewRecordRepository(db, logger), func() {}, nil
	case "mongo":
		store, err := repo.OpenMongo(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(ctx); err != nil {
				logger.Error("failed to close mongo client", "error", err)
			}
		}, nil
	}
	return nil, nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown RECORD_STORE %q", cfg.Kind), common.ErrInvalidInput)
}

func dsnKind(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}
