package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/recallstack/recall-server/internal/configs"
	"github.com/recallstack/recall-server/internal/domain/classifier"
	"github.com/recallstack/recall-server/internal/domain/conflict"
	"github.com/recallstack/recall-server/internal/domain/embedding"
	"github.com/recallstack/recall-server/internal/domain/engine"
	"github.com/recallstack/recall-server/internal/domain/retrieval"
	"github.com/recallstack/recall-server/internal/domain/tier"
	"github.com/recallstack/recall-server/internal/infrastructure/cache"
	"github.com/recallstack/recall-server/internal/infrastructure/crontab"
	"github.com/recallstack/recall-server/internal/infrastructure/database"
	"github.com/recallstack/recall-server/internal/infrastructure/database/repository/auditrepo"
	"github.com/recallstack/recall-server/internal/infrastructure/llm"
	"github.com/recallstack/recall-server/internal/infrastructure/postgres"
	"github.com/recallstack/recall-server/internal/interfaces/httpserver/handlers"
	"github.com/recallstack/recall-server/internal/interfaces/httpserver/middleware"
	"github.com/recallstack/recall-server/internal/interfaces/httpserver/responses"
	"github.com/recallstack/recall-server/internal/metrics"
	"github.com/recallstack/recall-server/internal/observability"
	"github.com/recallstack/recall-server/internal/telemetry"
)

type Application struct {
	server      *http.Server
	crontab     *crontab.Crontab
	batcher     *embedding.Batcher
	dbPool      *pgxpool.Pool
	sqlDB       *sql.DB
	lockCloser  interface{ Close() error }
	obsShutdown observability.Shutdown
}

func newApplication(cfg *configs.Config) (*Application, error) {
	ctx := context.Background()

	obsShutdown, err := observability.Setup(ctx, cfg, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	dbPool, err := pgxpool.New(ctx, cfg.GetDatabaseWriteDSN())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := dbPool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if err := runMigrations(ctx, dbPool, cfg.MigrationsDir); err != nil {
		return nil, err
	}
	log.Info().Msg("Database migrations applied")

	// The audit trail writes through GORM; the memory repository stays on
	// pgx for counters and vector search.
	gormDB, err := database.Connect(database.Config{DSN: cfg.GetDatabaseWriteDSN()})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	auditor := auditrepo.NewRepository(gormDB)

	cacheConfig := embedding.CacheConfig{
		Type:      cfg.EmbeddingCacheType,
		RedisURL:  cfg.EmbeddingCacheRedisURL,
		KeyPrefix: cfg.EmbeddingCacheKeyPrefix,
		MaxSize:   cfg.EmbeddingCacheMaxSize,
		TTL:       cfg.EmbeddingCacheTTL,
	}

	embeddingClient, err := embedding.NewHTTPClient(cfg.EmbeddingServiceURL, cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	if cfg.ValidateEmbedding {
		validateCtx, cancel := context.WithTimeout(ctx, cfg.ValidateEmbeddingTimeout)
		defer cancel()

		if err := embeddingClient.ValidateServer(validateCtx); err != nil {
			return nil, fmt.Errorf("validate embedding server: %w", err)
		}
		log.Info().Msg("Embedding server validated successfully")
	}
	// Circuit breaker innermost, batcher on top: coalesced batches trip and
	// recover as one unit.
	breaker := embedding.NewBreakerClient(embeddingClient)
	embedder := embedding.NewBatcher(breaker, cfg.EmbeddingBatchSize, cfg.EmbeddingBatchWindow)

	var (
		locker     engine.Locker
		lockCloser interface{ Close() error }
	)
	if cfg.LockRedisURL != "" {
		redisLocker, err := cache.NewRedisLocker(cfg.LockRedisURL, cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("create redis locker: %w", err)
		}
		locker = redisLocker
		lockCloser = redisLocker
		log.Info().Msg("Partition locking backed by redis")
	} else {
		locker = cache.NewLocalLocker()
		log.Info().Msg("Partition locking is in-process only")
	}

	var fallback classifier.FallbackClassifier
	if cfg.FallbackLLMBaseURL != "" {
		fallbackClient := llm.NewClient(cfg.FallbackLLMBaseURL, cfg.FallbackLLMAPIKey, cfg.FallbackLLMModel, cfg.RequestTimeout)

		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := fallbackClient.Health(healthCtx); err != nil {
			// Non-fatal: the rule path covers classification until it recovers.
			log.Warn().Err(err).Msg("Fallback classifier unreachable at startup")
		}
		healthCancel()

		fallback = fallbackClient
		log.Info().Str("model", cfg.FallbackLLMModel).Msg("Model fallback classifier enabled")
	}
	cls := classifier.New(classifier.DefaultConfig(), fallback)

	repo := postgres.NewRepository(dbPool)
	resolver := conflict.NewResolver(conflict.DefaultConfig())

	tierCfg := tier.DefaultConfig()
	tierCfg.PromotionWindow = cfg.TierPromotionWindow
	tierCfg.WorkingCapacity = cfg.TierWorkingCapacity
	tierCfg.ShortTermCapacity = cfg.TierShortTermCapacity
	tierCfg.WorkingMaxAge = cfg.TierWorkingMaxAge
	tiers := tier.NewManager(repo, tierCfg, auditor)

	retriever := retrieval.NewRetriever(cls, embedder, repo, tiers, retrieval.Config{
		TopK:           cfg.RetrievalTopK,
		CandidateLimit: cfg.RetrievalCandidateLimit,
		EmbedTimeout:   cfg.RetrievalEmbedTimeout,
	})

	sanitizer := telemetry.NewSanitizer(telemetry.PIILevel(cfg.PIILevel), cfg.TelemetrySalt)

	eng := engine.New(repo, cls, embedder, resolver, tiers, retriever, auditor, locker, sanitizer, engine.DefaultConfig())

	ctab := crontab.NewCrontab(eng, crontab.Config{
		SweepEnabled:         cfg.SweepEnabled,
		SweepIntervalMinutes: cfg.SweepIntervalMinutes,
		BackfillEnabled:      cfg.BackfillEnabled,
	})

	memoryHandler := handlers.NewMemoryHandler(eng, auditor)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbPool.Ping(pingCtx); err != nil {
			responses.Error(w, r, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		responses.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/memory/add", memoryHandler.HandleAdd)
	mux.HandleFunc("/v1/memory/retrieve", memoryHandler.HandleRetrieve)
	mux.HandleFunc("/v1/memory/category", memoryHandler.HandleCategory)
	mux.HandleFunc("/v1/memory/stats", memoryHandler.HandleStats)
	mux.HandleFunc("/v1/memory/delete", memoryHandler.HandleDelete)
	mux.HandleFunc("/v1/memory/audit", memoryHandler.HandleAudit)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	handler := middleware.TimeoutMiddleware(cfg.RequestTimeout)(mux)
	handler = middleware.AuthMiddleware(cfg.APIKey)(handler)
	handler = middleware.MetricsMiddleware()(handler)
	handler = middleware.TracingMiddleware(cfg.ServiceName)(handler)
	handler = middleware.RequestIDMiddleware()(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Application{
		server:      server,
		crontab:     ctab,
		batcher:     embedder,
		dbPool:      dbPool,
		sqlDB:       sqlDB,
		lockCloser:  lockCloser,
		obsShutdown: obsShutdown,
	}, nil
}

func (a *Application) Start(ctx context.Context) error {
	log.Info().Msg("Starting Recall Server")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", a.server.Addr).Msg("Recall Server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.crontab.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	a.batcher.Stop()
	a.dbPool.Close()
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.lockCloser != nil {
		_ = a.lockCloser.Close()
	}
	if a.obsShutdown != nil {
		obsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.obsShutdown(obsCtx)
	}

	log.Info().Msg("Server exited")
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runMigrations(ctx context.Context, db *pgxpool.Pool, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		log.Info().Str("migration", entry.Name()).Msg("Applying migration")
		if _, err := db.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}
