package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/internal/application/executor"
	"github.com/aescanero/phaseline/internal/application/orchestrator"
	"github.com/aescanero/phaseline/internal/config"
	artifactfs "github.com/aescanero/phaseline/pkg/adapters/artifacts/fs"
	cacheredis "github.com/aescanero/phaseline/pkg/adapters/cache/redis"
	eventredis "github.com/aescanero/phaseline/pkg/adapters/events/redis"
	promadapter "github.com/aescanero/phaseline/pkg/adapters/metrics/prometheus"
	redisstorage "github.com/aescanero/phaseline/pkg/adapters/storage/redis"
	"github.com/aescanero/phaseline/pkg/adapters/tool"
	grpcapi "github.com/aescanero/phaseline/pkg/api/grpc"
	httpapi "github.com/aescanero/phaseline/pkg/api/http"
	"github.com/aescanero/phaseline/pkg/api/websocket"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration server",
		Long: `Serve starts the long-running orchestrator: HTTP and gRPC APIs backed
by Redis for run state, events and caches, with artifacts on the local
filesystem. Configuration comes from PHASELINE_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting phaseline",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	eventBus, err := eventredis.NewStreamsEventBus(
		redisClient,
		"phaseline-server",
		fmt.Sprintf("phaseline-%d", os.Getpid()),
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}

	runStore := redisstorage.NewRunStore(redisClient, cfg.Store.RunTTL, logger)
	cacheStore := cacheredis.NewCacheStore(redisClient, cfg.Store.CacheTTL, logger)

	artifactStore, err := artifactfs.NewStore(cfg.Store.ArtifactRoot, logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	metricsCollector := promadapter.NewCollector(prometheus.DefaultRegisterer)

	exec := executor.New(
		tool.NewExecRunner(logger),
		artifactStore,
		cacheStore,
		runStore,
		eventBus,
		metricsCollector,
		logger,
		executor.Options{
			WorkRoot:            cfg.Store.WorkRoot,
			DefaultStageTimeout: cfg.Timeouts.StageExecutionTimeout,
			WatchdogInterval:    cfg.Runs.WatchdogInterval,
		},
	)

	orchestratorMgr := orchestrator.NewManager(
		exec,
		runStore,
		eventBus,
		metricsCollector,
		logger,
		cfg.Timeouts.RunExecutionTimeout,
		cfg.Runs.MaxConcurrentStages,
	)

	pruneStop := make(chan struct{})
	go pruneArtifacts(artifactStore, cfg.Store.ArtifactRetention, cfg.Store.PruneInterval, pruneStop, logger)

	httpServer := httpapi.NewServer(&httpapi.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Artifacts:    artifactStore,
		Logger:       logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, logger))

	grpcServer, err := grpcapi.NewServer(&grpcapi.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("phaseline started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("max_concurrent_stages", cfg.Runs.MaxConcurrentStages))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}
	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	close(pruneStop)

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("phaseline shutdown complete")
	return nil
}

// pruneArtifacts periodically removes artifact trees for runs older than
// the configured retention.
func pruneArtifacts(store *artifactfs.Store, retention, interval time.Duration, stop <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			removed, err := store.Prune(context.Background(), retention)
			if err != nil {
				logger.Error("artifact prune failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("pruned expired run artifacts", zap.Int("runs", removed))
			}
		}
	}
}
