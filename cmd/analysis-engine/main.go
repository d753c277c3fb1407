package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/chartpilot/analysis-engine/internal/api"
	"github.com/chartpilot/analysis-engine/internal/auth"
	"github.com/chartpilot/analysis-engine/internal/cache"
	"github.com/chartpilot/analysis-engine/internal/capture"
	"github.com/chartpilot/analysis-engine/internal/clock"
	"github.com/chartpilot/analysis-engine/internal/config"
	"github.com/chartpilot/analysis-engine/internal/engine"
	"github.com/chartpilot/analysis-engine/internal/extractors"
	"github.com/chartpilot/analysis-engine/internal/metrics"
	"github.com/chartpilot/analysis-engine/internal/patterns"
	"github.com/chartpilot/analysis-engine/internal/provider"
	"github.com/chartpilot/analysis-engine/internal/quota"
	"github.com/chartpilot/analysis-engine/internal/repo"
	"github.com/chartpilot/analysis-engine/internal/scheduler"
	"github.com/chartpilot/analysis-engine/internal/services"
	"github.com/chartpilot/analysis-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	if err := run(cfg, logger); err != nil {
		logger.Error("analysis engine exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting analysis engine",
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("provider", string(cfg.Provider.Kind)))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.System{}

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Quota.Backend == config.QuotaBackendRedis {
		var err error
		redisClient, err = cache.NewClient(cfg.Cache.ValkeyConfig)
		if err != nil {
			return fmt.Errorf("connect valkey: %w", err)
		}
		defer redisClient.Close()
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewValkeyProviderFromClient(redisClient)
	}

	var quotaStore quota.Store
	var sweeper scheduler.Sweeper
	if cfg.Quota.Backend == config.QuotaBackendRedis {
		quotaStore = quota.NewRedisStore(redisClient)
	} else {
		memoryStore := quota.NewMemoryStore()
		quotaStore, sweeper = memoryStore, memoryStore
		logger.Warn("using in-process quota store; counters reset on restart and are not shared between replicas")
	}
	verifier := auth.NewVerifier(cfg.Auth)
	tiers := auth.ClaimsTiers{Fallback: cfg.TierResolver()}
	quotaManager := quota.NewManager(quotaStore, clk, cfg.LimitTable(), tiers, logger)

	if dir := filepath.Dir(cfg.History.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	history, err := repo.NewSQLiteHistory(ctx, cfg.History.Path, clk, cacheProvider, cfg.History.ListTTL, logger)
	if err != nil {
		return err
	}
	defer history.Close()

	gateway, err := provider.New(cfg.Provider, logger)
	if err != nil {
		return err
	}

	validator := capture.NewValidator(cfg.Capture.Thresholds, logger)
	pipeline := engine.NewPipeline(logger, validator, quotaManager, gateway, history, extractors.NewParser())
	analysisService := services.NewAnalysisService(logger, pipeline, quotaManager, history,
		patterns.NewMiner(logger, history, 0),
		services.SnapshotConfig{
			Validator:    validator,
			Retry:        cfg.Capture.Retry,
			Timeout:      cfg.Capture.SnapshotTimeout,
			AllowedHosts: cfg.Capture.SnapshotHosts,
			AllowPrivate: cfg.Capture.AllowPrivateSnapshots,
		})

	grpcServer, err := api.NewServer(cfg.Server, api.NewGRPCService(analysisService),
		grpc.ChainUnaryInterceptor(verifier.UnaryServerInterceptor()))
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}
	httpServer := api.NewHTTPServer(cfg.Server, analysisService, verifier, prometheus.DefaultGatherer, logger)

	jobs := scheduler.New(ctx, clk, logger)
	if err := jobs.RegisterPurge(cfg.Scheduler.PurgeSpec, cfg.History.Retention, history); err != nil {
		return err
	}
	if sweeper != nil {
		if err := jobs.RegisterSweep(cfg.Scheduler.SweepSpec, sweeper); err != nil {
			return err
		}
	}
	jobs.Start()
	defer jobs.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", grpcServer.Address()))
		return grpcServer.Start()
	})
	if cfg.Server.HTTPAddress != "" {
		g.Go(func() error {
			logger.Info("HTTP server listening", slog.String("address", cfg.Server.HTTPAddress))
			return httpServer.Start()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		grpcServer.Shutdown(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", slog.Any("error", err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("analysis engine stopped", slog.Duration("p95_latency", analysisService.LatencyP95().Round(time.Millisecond)))
	return err
}
