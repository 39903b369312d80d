package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/cache"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/config"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/database"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/handlers"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/jobs"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/log"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/metrics"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/repository"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/security"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/server"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/service"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.Migrate(dbPool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}

	checks := []handlers.HealthCheck{{Name: "database", Ping: dbPool.Ping}}

	var (
		redisClient *redis.Client
		store       session.Store
	)
	switch cfg.Session.Store {
	case "redis":
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		redisStore := session.NewRedisStore(redisClient, cfg.Session.Timeout)
		checks = append(checks, handlers.HealthCheck{Name: "redis", Ping: redisStore.Ping})
		store = redisStore
	default:
		store = session.NewMemoryStore()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(promRegistry)

	tokens := security.NewTokenIssuer(
		cfg.Security.JWTAccessSecret,
		cfg.Security.JWTRefreshSecret,
		cfg.Security.JWTAccessTTL,
		cfg.Security.JWTRefreshTTL,
	)
	registry := session.NewRegistry(session.Config{
		Timeout:            cfg.Session.Timeout,
		MaxSessionsPerUser: cfg.Session.MaxSessionsPerUser,
		SweepInterval:      cfg.Session.SweepInterval,
	}, store, tokens, logger,
		session.WithActivityRecorder(repository.NewActivityRepository(dbPool, logger)),
		session.WithObserver(appMetrics),
	)
	promRegistry.MustRegister(metrics.NewSessionCollector(registry, logger))

	authService := service.NewAuthService(repository.NewUserRepository(dbPool), registry, logger)
	handlerSet := handlers.NewHandlerSet(logger, cfg.Environment, authService, tokens, registry, checks...)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet, server.Instrumentation{
		Metrics:  appMetrics,
		Gatherer: promRegistry,
	})

	scheduler := jobs.NewScheduler(logger)
	err = scheduler.Add("session-sweep", jobs.Every(cfg.Session.SweepInterval), func(ctx context.Context) error {
		_, err := registry.CleanupExpiredSessions(ctx)
		return err
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("schedule session sweep failed")
	}
	scheduler.Start()

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler stop timed out")
	}

	db.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
