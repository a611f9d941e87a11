package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// RunMigrations brings the registry schema (rules, roster, inventory,
// match results, action log) up to date from the SQL files under
// migrationsPath. Idempotent: already-applied versions are skipped. A
// dirty schema version from an earlier crashed migration aborts rather
// than migrating on top of it. Runs over database/sql because
// golang-migrate's postgres driver requires it; everything else in the
// service talks pgx.
func RunMigrations(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty, refusing to migrate", from)
	}

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("Schema up to date", zap.Uint("version", from))
		return nil
	case err != nil:
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	to, _, _ := m.Version()
	logger.Info("Schema migrated",
		zap.Uint("from_version", from),
		zap.Uint("to_version", to))
	return nil
}
