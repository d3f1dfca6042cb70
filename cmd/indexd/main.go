package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/pairdb/index-node/internal/config"
	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/health"
	"github.com/devrev/pairdb/index-node/internal/metrics"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/server"
	"github.com/devrev/pairdb/index-node/internal/service"
	"github.com/devrev/pairdb/index-node/internal/storage/diskmanager"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/store"
	"github.com/devrev/pairdb/index-node/internal/util"
	"github.com/devrev/pairdb/index-node/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("index_uid", cfg.Index.UID),
		zap.String("data_dir", cfg.EnvDir()),
		zap.Bool("in_memory", cfg.Storage.InMemory))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Index node failed", zap.Error(err))
	}
	logger.Info("Index node stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := kv.Open(&kv.Config{
		Dir:                 cfg.EnvDir(),
		CheckpointThreshold: cfg.Storage.CheckpointThreshold,
		SyncWrites:          cfg.CommitLog.SyncWrites,
	}, logger)
	if err != nil {
		if stderrors.Is(err, util.ErrCorruptFrame) {
			return errors.ChecksumFailed("index data failed verification", err)
		}
		return errors.StoreFailed("failed to open index environment", err)
	}
	defer env.Close()

	idx, err := store.OpenIndex(env, cfg.Index.UID)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry, cfg.Index.UID)

	updates := service.NewUpdateService(&service.Config{PollInterval: cfg.Updates.PollInterval}, env, idx, m, logger)

	schema, err := cfg.Schema()
	if err != nil {
		return err
	}
	if schema != nil {
		if _, err := updates.EnsureSchema(ctx, schema); err != nil {
			return err
		}
	}

	var disk *diskmanager.DiskManager
	if dir := cfg.EnvDir(); dir != "" {
		diskCfg := diskmanager.DefaultConfig(dir)
		diskCfg.CircuitBreakerThreshold = cfg.Storage.MaxDiskUsage * 100
		if disk, err = diskmanager.NewDiskManager(diskCfg, logger); err != nil {
			return err
		}
		updates.SetDiskGuard(disk)
	}

	callbacks := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "update-callbacks",
		MaxWorkers: cfg.Updates.CallbackWorkers,
		QueueSize:  cfg.Updates.CallbackQueueSize,
	}, logger)
	defer callbacks.Stop(5 * time.Second)

	updates.SetUpdateCallback(func(indexUID string, result *model.ProcessedUpdateResult) {
		if !result.Succeeded() {
			logger.Warn("Update failed",
				zap.Uint64("update_id", result.UpdateID),
				zap.String("error", result.Error))
		}
	}, callbacks)

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		IndexUID:       cfg.Index.UID,
		DataDir:        cfg.EnvDir(),
		CheckInterval:  cfg.Health.CheckInterval,
		BacklogWarning: cfg.Health.BacklogWarning,
	}, updates, disk, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return updates.Run(gctx)
	})
	g.Go(func() error {
		checker.Start(gctx)
		return nil
	})
	if cfg.Metrics.Enabled {
		srv := server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, registry, checker, updates, logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	logger.Info("Index node started")
	<-gctx.Done()
	logger.Info("Shutting down gracefully...")
	checker.SetReadiness(false)

	return g.Wait()
}

// initLogger builds a zap logger at the configured level and encoding
func initLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
