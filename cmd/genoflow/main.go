package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/genoflow/genoflow/internal/application/controller"
	"github.com/genoflow/genoflow/internal/config"
	"github.com/genoflow/genoflow/internal/report"
	"github.com/genoflow/genoflow/pkg/adapters/backend/docker"
	"github.com/genoflow/genoflow/pkg/adapters/backend/local"
	cachefs "github.com/genoflow/genoflow/pkg/adapters/cachestore/fs"
	cacheredis "github.com/genoflow/genoflow/pkg/adapters/cachestore/redis"
	eventsmemory "github.com/genoflow/genoflow/pkg/adapters/events/memory"
	"github.com/genoflow/genoflow/pkg/adapters/metrics/prometheus"
	"github.com/genoflow/genoflow/pkg/api/grpc"
	"github.com/genoflow/genoflow/pkg/api/http"
	"github.com/genoflow/genoflow/pkg/api/websocket"
	"github.com/genoflow/genoflow/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "genoflow",
		Short:         "Dependency-driven genomic pipeline engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("genoflow %s (built %s)\n", Version, BuildTime)
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		readsDir string
		genome   string
		policy   string
		backend  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline over a directory of paired-end reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			// Flags take precedence over the environment.
			if readsDir != "" {
				cfg.ReadsDir = readsDir
			}
			if genome != "" {
				cfg.Genome = genome
			}
			if policy != "" {
				cfg.FailurePolicy = policy
			}
			if backend != "" {
				cfg.Backend = backend
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if cfg.ReadsDir == "" {
				return fmt.Errorf("reads directory is required (--reads-dir or GENOFLOW_READS_DIR)")
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&readsDir, "reads-dir", "", "directory of paired-end read files")
	cmd.Flags().StringVar(&genome, "genome", "", "reference genome id from the catalog")
	cmd.Flags().StringVar(&policy, "policy", "", "failure policy: fail-fast or continue-on-error")
	cmd.Flags().StringVar(&backend, "backend", "", "execution backend: local or docker")
	return cmd
}

func run(cfg *config.Config) error {
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting genoflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Execution backend
	var backend ports.Backend
	switch cfg.Backend {
	case "docker":
		backend = docker.New(cfg.DockerImage, logger)
	default:
		backend = local.New(logger)
	}

	// Result cache
	var (
		store       ports.CacheStore
		redisClient *goredis.Client
	)
	switch cfg.Cache.Backend {
	case "fs":
		store = cachefs.New(cfg.Cache.Dir)
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
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
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		store = cacheredis.New(redisClient, cfg.Cache.TTL, logger)
	case "off":
		logger.Info("result cache disabled")
	}

	eventBus := eventsmemory.New(logger)
	metricsCollector := prometheus.NewCollector()

	ctrl := controller.New(cfg, backend, store, eventBus, metricsCollector, logger, nil)

	httpServer := http.NewServer(&http.Config{
		Port:       cfg.HTTPPort,
		Controller: ctrl,
		Logger:     logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	var g errgroup.Group
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)

	logger.Info("genoflow started",
		zap.String("run_id", ctrl.RunID()),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("backend", backend.Name()),
		zap.String("cache", cfg.Cache.Backend))

	summary, runErr := ctrl.Run(ctx)
	report.Render(os.Stdout, summary)

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}
	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("genoflow shut down complete")

	if runErr != nil {
		return runErr
	}
	if len(summary.Failures) > 0 {
		return fmt.Errorf("%d stage failure(s), see report above", len(summary.Failures))
	}
	return nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
