// Package main is the entry point for the progression engine API process.
//
// The API serves the read surface (season overviews, leaderboards, ranks,
// progress reports, score history), the mentor review workflow, and the
// administrative endpoints for corrections and season closing.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: pure progression, scoring, review and leaderboard logic
// - Application: use case orchestration (Commands/Queries/Sagas)
// - Infrastructure: repositories, caching, event bus
// - Interface: HTTP endpoints
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pillarworks/progression-engine/config"

	// Application layer
	"github.com/pillarworks/progression-engine/internal/application/command"
	"github.com/pillarworks/progression-engine/internal/application/eventhandler"
	"github.com/pillarworks/progression-engine/internal/application/query"
	"github.com/pillarworks/progression-engine/internal/application/saga"

	// Domain layer
	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"

	// Infrastructure layer
	"github.com/pillarworks/progression-engine/internal/infrastructure/messaging"
	"github.com/pillarworks/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/pillarworks/progression-engine/internal/infrastructure/persistence/redis"

	// Interface layer
	httpserver "github.com/pillarworks/progression-engine/internal/interface/http"
	"github.com/pillarworks/progression-engine/internal/interface/http/handlers"

	// Packages
	"github.com/pillarworks/progression-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting progression engine API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolSettings{
		MaxConns:        cfg.Database.MaxOpenConns,
		MinConns:        cfg.Database.MaxIdleConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var boardCache leaderboard.Cache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, board caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			boardCache = redis.NewLeaderboardCache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	catalogRepo := postgres.NewCatalogRepository(dbConn)
	progressionRepo := postgres.NewProgressionRepository(dbConn)
	reviewRepo := postgres.NewReviewRepository(dbConn)
	scoringRepo := postgres.NewScoringRepository(dbConn)
	snapshotRepo := postgres.NewSnapshotRepository(dbConn)
	txManager := postgres.NewTxManager(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	eventBusConfig := messaging.DefaultInMemoryEventBusConfig()
	eventBusConfig.Logger = log
	eventBusConfig.AsyncMode = true
	eventBus := messaging.NewInMemoryEventBus(eventBusConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. DOMAIN SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	engine := scoring.NewEngine(scoringRepo)
	resolver := progression.NewResolver(progressionRepo)
	ledger := progression.NewLedger(progressionRepo, scoringRepo)

	builderConfig := leaderboard.DefaultConfig()
	builderConfig.MedalPositions = cfg.Progression.MedalPositions
	builderConfig.ExcludeZeroScores = cfg.Progression.ExcludeZeroScores
	if !cfg.Features.IsEnabled(config.FeatureLeaderboardMedals, "") {
		builderConfig.MedalPositions = 0
	}
	if !cfg.Features.IsEnabled(config.FeatureLeaderboardBuckets, "") {
		builderConfig.Buckets = nil
	}
	builder, err := leaderboard.NewBuilder(builderConfig)
	if err != nil {
		return fmt.Errorf("invalid leaderboard config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. APPLICATION LAYER (Commands, Queries, Sagas)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	assembler := query.NewLeaderboardAssembler(scoringRepo, progressionRepo, snapshotRepo, builder)
	cacheTTL := cfg.Progression.LeaderboardCacheTTL

	leaderboardQuery := query.NewGetLeaderboardHandler(assembler, boardCache, cacheTTL)
	studentRankQuery := query.NewGetStudentRankHandler(assembler, boardCache, cacheTTL)
	studentProgressQuery := query.NewGetStudentProgressHandler(catalogRepo, progressionRepo, scoringRepo)
	seasonOverviewQuery := query.NewGetSeasonOverviewHandler(catalogRepo, scoringRepo)
	scoreHistoryQuery := query.NewGetScoreHistoryHandler(scoringRepo)

	submitTaskCmd := command.NewSubmitTaskHandler(reviewRepo)
	approveCmd := command.NewApproveSubmissionHandler(reviewRepo, catalogRepo, resolver, ledger, engine, txManager, eventBus)
	rejectCmd := command.NewRejectSubmissionHandler(reviewRepo, eventBus)
	resubmitCmd := command.NewRequestResubmissionHandler(reviewRepo, eventBus)
	adjustScoreCmd := command.NewAdjustScoreHandler(engine, txManager, eventBus)
	recordStreakCmd := command.NewRecordStreakDayHandler(catalogRepo, resolver, ledger, engine, txManager, eventBus)
	finalizeCmd := command.NewFinalizeSeasonHandler(scoringRepo, engine, txManager, eventBus)

	closingSaga := saga.NewSeasonClosingSaga(
		catalogRepo,
		finalizeCmd,
		assembler,
		snapshotRepo,
		boardCache,
		log,
		saga.SeasonClosingConfig{PodiumSize: cfg.Progression.MedalPositions},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")

	dispatcher := messaging.NewDispatcherBuilder(eventBus).
		WithLogger(log).
		Build()

	taskCompleted := eventhandler.NewOnTaskCompletedHandler(boardCache, log)
	episodeCompleted := eventhandler.NewOnEpisodeCompletedHandler(assembler, boardCache, cacheTTL, log)
	rankChanged := eventhandler.NewOnRankChangedHandler(log, cfg.Progression.MedalPositions)

	if err := dispatcher.Register(taskCompleted.EventType(), "invalidate_board_cache", taskCompleted.Handle); err != nil {
		return fmt.Errorf("failed to register task completed handler: %w", err)
	}
	if err := dispatcher.Register(episodeCompleted.EventType(), "refresh_board_cache", episodeCompleted.Handle); err != nil {
		return fmt.Errorf("failed to register episode completed handler: %w", err)
	}
	if err := dispatcher.Register(rankChanged.EventType(), "log_rank_movement", rankChanged.Handle); err != nil {
		return fmt.Errorf("failed to register rank changed handler: %w", err)
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}
	defer func() {
		log.Info("stopping event dispatcher...")
		_ = dispatcher.Stop()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	healthChecker.AddCheck("database", handlers.NewPingCheck(dbConn))
	if redisCache != nil {
		healthChecker.AddCheck("cache", handlers.NewPingCheck(redisCache))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.EnableCORS = cfg.HTTP.EnableCORS
	httpConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpConfig.EnableMetrics = cfg.HTTP.EnableMetrics
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpConfig.APIKeyHeader = cfg.HTTP.APIKeyHeader
	httpConfig.APIKeys = cfg.HTTP.APIKeys

	httpDeps := httpserver.Dependencies{
		GetLeaderboardHandler:      leaderboardQuery,
		GetStudentRankHandler:      studentRankQuery,
		GetStudentProgressHandler:  studentProgressQuery,
		GetSeasonOverviewHandler:   seasonOverviewQuery,
		GetScoreHistoryHandler:     scoreHistoryQuery,
		SubmitTaskHandler:          submitTaskCmd,
		ApproveSubmissionHandler:   approveCmd,
		RejectSubmissionHandler:    rejectCmd,
		RequestResubmissionHandler: resubmitCmd,
		AdjustScoreHandler:         adjustScoreCmd,
		RecordStreakDayHandler:     recordStreakCmd,
		SeasonClosingSaga:          closingSaga,
		CatalogRepo:                catalogRepo,
		HealthChecker:              healthChecker,
		Logger:                     logger.Default(),
	}

	httpServer := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 13. START
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)

	go func() {
		log.Info("starting HTTP server", "address", httpServer.Address())
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	log.Info("progression engine API is running", "http_address", httpServer.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 14. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger configures structured logging for the process.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	switch cfg.Observability.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
