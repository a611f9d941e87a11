package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/aedregistry/matching-engine/pkg/config"
	"github.com/aedregistry/matching-engine/pkg/database"
	"github.com/aedregistry/matching-engine/pkg/handlers"
	"github.com/aedregistry/matching-engine/pkg/middleware"
	"github.com/aedregistry/matching-engine/pkg/repositories"
	"github.com/aedregistry/matching-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("db_host", cfg.Database.Host),
		zap.Int("matching_workers", cfg.Matching.Workers),
		zap.Int("auto_threshold", cfg.Matching.AutoThreshold),
		zap.Int("suggest_threshold", cfg.Matching.SuggestThreshold))

	ctx := context.Background()

	// Migrations run over database/sql; the service itself uses the
	// pgx pool.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ruleRepo := repositories.NewRuleRepository()
	targetRepo := repositories.NewTargetRepository()
	deviceRepo := repositories.NewDeviceRepository()
	matchRepo := repositories.NewMatchRepository()

	matchingService := services.NewMatchingService(db, ruleRepo, targetRepo, deviceRepo, matchRepo, cfg.Matching, logger)
	reviewService := services.NewReviewService(db, matchRepo, deviceRepo, logger)
	conflictService := services.NewConflictService(deviceRepo, matchRepo, logger)
	driftService := services.NewDriftService(matchRepo, logger)
	ruleService := services.NewRuleService(ruleRepo, logger)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	matchingHandler := handlers.NewMatchingHandler(
		matchingService, reviewService, conflictService, driftService, ruleService, logger)
	matchingHandler.RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(middleware.DatabaseScope(db)(mux))

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting aed-matching-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
