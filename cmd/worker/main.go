// Package main is the entry point for the progression engine worker process.
//
// The worker runs the periodic jobs:
// - Rebuilding the season leaderboard and persisting rank snapshots
// - Crediting streak days from the activity feed once per day
//
// The API process serves reads from the snapshots and caches this worker
// maintains, so both processes can be deployed and scaled independently.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pillarworks/progression-engine/config"

	// Application layer
	"github.com/pillarworks/progression-engine/internal/application/command"
	"github.com/pillarworks/progression-engine/internal/application/eventhandler"
	"github.com/pillarworks/progression-engine/internal/application/query"

	// Domain layer
	"github.com/pillarworks/progression-engine/internal/domain/leaderboard"
	"github.com/pillarworks/progression-engine/internal/domain/progression"
	"github.com/pillarworks/progression-engine/internal/domain/scoring"

	// Infrastructure layer
	"github.com/pillarworks/progression-engine/internal/infrastructure/external/streakfeed"
	"github.com/pillarworks/progression-engine/internal/infrastructure/messaging"
	"github.com/pillarworks/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/pillarworks/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/pillarworks/progression-engine/internal/infrastructure/scheduler"
	"github.com/pillarworks/progression-engine/internal/infrastructure/scheduler/jobs"
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
	log.Info("starting progression engine worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
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

	// The worker also keeps the schema current so it can run standalone.
	log.Info("checking database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional; enables cross-instance job locks and board caching)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var boardCache leaderboard.Cache
	var locker jobs.Locker

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
			log.Warn("failed to connect to Redis, locks and caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			boardCache = redis.NewLeaderboardCache(redisCache)
			locker = redisCache
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES AND DOMAIN SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	catalogRepo := postgres.NewCatalogRepository(dbConn)
	progressionRepo := postgres.NewProgressionRepository(dbConn)
	scoringRepo := postgres.NewScoringRepository(dbConn)
	snapshotRepo := postgres.NewSnapshotRepository(dbConn)
	txManager := postgres.NewTxManager(dbConn)

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

	assembler := query.NewLeaderboardAssembler(scoringRepo, progressionRepo, snapshotRepo, builder)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
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

	dispatcher := messaging.NewDispatcherBuilder(eventBus).
		WithLogger(log).
		Build()

	rankChanged := eventhandler.NewOnRankChangedHandler(log, cfg.Progression.MedalPositions)
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
	// 7. SCHEDULER AND JOBS
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled by configuration, worker has nothing to do")
	}

	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log
	sched := scheduler.NewScheduler(schedConfig)

	if cfg.Scheduler.Enabled {
		// Leaderboard rebuild on a fixed interval.
		rebuildConfig := jobs.DefaultRebuildLeaderboardConfig()
		rebuildConfig.SnapshotRetentionDays = cfg.Scheduler.SnapshotRetentionDays
		rebuildConfig.CacheTTL = cfg.Progression.LeaderboardCacheTTL
		rebuildConfig.Timeout = cfg.Scheduler.JobTimeout

		rebuildJob := jobs.NewRebuildLeaderboardJob(
			catalogRepo,
			assembler,
			snapshotRepo,
			boardCache,
			locker,
			eventBus,
			log,
			rebuildConfig,
		)

		if err := sched.Register(rebuildJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildLeaderboardInterval)); err != nil {
			return fmt.Errorf("failed to register rebuild job: %w", err)
		}

		// Daily streak crediting from the activity feed.
		switch {
		case !cfg.Features.IsEnabled(config.FeatureStreakDailyCredit, ""):
			log.Warn("streak crediting disabled by feature flag")
		case cfg.StreakFeed.BaseURL == "":
			log.Warn("STREAK_FEED_BASE_URL not set, streak crediting disabled")
		default:
			feedConfig := streakfeed.DefaultClientConfig(cfg.StreakFeed.BaseURL)
			feedConfig.APIKey = cfg.StreakFeed.APIKey
			feedConfig.RequestsPerSecond = cfg.StreakFeed.RequestsPerSecond
			feedConfig.BurstSize = cfg.StreakFeed.BurstSize
			feedConfig.Timeout = cfg.StreakFeed.RequestTimeout
			feedConfig.MaxRetries = cfg.StreakFeed.MaxRetries
			feedConfig.Logger = log
			feedClient := streakfeed.NewClient(feedConfig)

			recordStreakCmd := command.NewRecordStreakDayHandler(catalogRepo, resolver, ledger, engine, txManager, eventBus)

			streaksConfig := jobs.DefaultEvaluateStreaksConfig()
			streaksConfig.Concurrency = cfg.Scheduler.StreakConcurrency
			streaksConfig.Timeout = cfg.Scheduler.JobTimeout

			streaksJob := jobs.NewEvaluateStreaksJob(feedClient, recordStreakCmd, locker, log, streaksConfig)

			cronSpec := fmt.Sprintf("%d %d * * *", cfg.Scheduler.StreakCreditMinute, cfg.Scheduler.StreakCreditHour)
			streakSchedule, err := scheduler.ParseCronExpression(cronSpec)
			if err != nil {
				return fmt.Errorf("invalid streak schedule %q: %w", cronSpec, err)
			}

			if err := sched.Register(streaksJob, streakSchedule); err != nil {
				return fmt.Errorf("failed to register streaks job: %w", err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("progression engine worker is running",
		"rebuild_interval", cfg.Scheduler.RebuildLeaderboardInterval.String(),
		"streak_credit_time", fmt.Sprintf("%02d:%02d UTC", cfg.Scheduler.StreakCreditHour, cfg.Scheduler.StreakCreditMinute),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
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
