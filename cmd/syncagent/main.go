package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/jobs"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/log"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/metrics"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/offline"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/syncagent/config"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/syncagent/control"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.NewWithLevel(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()

	kv, err := openKV(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to open sync storage")
	}

	queueCfg, err := cfg.QueueConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid sync settings")
	}

	var gatherer prometheus.Gatherer
	var observer offline.Observer
	promRegistry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		observer = metrics.NewSyncMetrics(promRegistry)
		gatherer = promRegistry
	}

	client := offline.NewHTTPClient(cfg.API.BaseURL, cfg.API.HealthURL, cfg.API.Token, cfg.API.Timeout)
	queue := offline.NewQueue(queueCfg, client, kv, logger, offline.WithObserver(observer))
	if err := queue.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to restore offline queue")
	}
	if cfg.Metrics.Enabled {
		promRegistry.MustRegister(metrics.NewQueueCollector(queue))
	}

	prober := offline.NewProber(client.Ping, queue, cfg.API.Timeout, logger)
	_ = prober.Probe(ctx)

	scheduler := jobs.NewScheduler(logger)
	if err := scheduler.Add("connectivity-probe", jobs.Every(cfg.Sync.ProbeInterval), prober.Probe); err != nil {
		logger.Fatal().Err(err).Msg("schedule connectivity probe failed")
	}
	if err := scheduler.Add("full-sync", jobs.Every(queueCfg.SyncInterval), queue.TriggerFullSync); err != nil {
		logger.Fatal().Err(err).Msg("schedule full sync failed")
	}
	scheduler.Start()

	controlServer := control.NewServer(cfg, queue, logger, gatherer)
	go func() {
		if err := controlServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("control server failed")
		}
	}()

	waitForShutdown(logger, controlServer, scheduler, queue, kv)
}

func openKV(ctx context.Context, cfg *config.Config) (offline.KV, error) {
	if cfg.Storage.Backend == "s3" {
		store, err := offline.NewObjectStore(cfg.ObjectStoreConfig())
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := offline.OpenLevelDB(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func waitForShutdown(logger zerolog.Logger, srv *control.Server, scheduler *jobs.Scheduler, queue *offline.Queue, kv offline.KV) {
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

	queue.Close()
	if err := kv.Close(); err != nil {
		logger.Error().Err(err).Msg("sync storage close error")
	}

	logger.Info().Msg("sync agent exited cleanly")
}
