// Package main is the entry point for the Ruzuku approval server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/ruzuku/internal/config"
	"github.com/pitabwire/ruzuku/internal/identity"
	"github.com/pitabwire/ruzuku/internal/notify"
	"github.com/pitabwire/ruzuku/internal/observability"
	"github.com/pitabwire/ruzuku/internal/transport"
	"github.com/pitabwire/ruzuku/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "ruzuku", version)
	if err != nil {
		logger.Fatal("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load the identity directory and wrap it with a lookup cache.
	staticDir, err := identity.NewStaticDirectory(cfg.Directory.File)
	if err != nil {
		logger.Fatal("directory load failed", zap.Error(err))
		return 1
	}
	directory := identity.NewCachedDirectory(staticDir, cfg.Directory.Cache.TTL, metrics)

	// Step 5: Initialize the workflow store.
	store, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("workflow store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Initialize the notifier.
	notifier := buildNotifier(cfg.Notifier, metrics, logger)

	// Step 7: Build the approval engine.
	engine := workflow.NewEngine(store, directory,
		workflow.WithNotifier(notifier),
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics),
		workflow.WithMissedPolicy(cfg.Approvals.MissedPolicy),
	)

	// Step 8: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)

	readiness := observability.ReadinessChecks{
		DirectoryLoaded: func() bool { return staticDir.Len() > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.WorkflowStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Engine:       engine,
		Metrics:      metrics,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start the due-date sweep.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runMissedSweep(bgCtx, engine, cfg.Approvals.SweepInterval, logger)

	// Step 10: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.String("missed_policy", cfg.Approvals.MissedPolicy),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the sweep.
	bgCancel()

	// Close the store.
	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the workflow store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (workflow.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory workflow store")
		return workflow.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("workflow store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("workflow store: ping: %w", err)
		}

		return workflow.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported workflow store driver: %q", cfg.Driver)
	}
}

// buildNotifier creates the notifier based on config.
func buildNotifier(cfg config.NotifierConfig, metrics *observability.Metrics, logger *zap.Logger) notify.Notifier {
	switch cfg.Kind {
	case "webhook":
		logger.Info("using webhook notifier", zap.String("url", cfg.WebhookURL))
		return notify.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout, metrics)
	default:
		logger.Info("using in-memory notifier")
		return notify.NewMemoryNotifier()
	}
}

// runMissedSweep periodically marks seats that have passed their due date.
func runMissedSweep(ctx context.Context, engine *workflow.Engine, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.MarkMissed(ctx); err != nil {
				logger.Error("due date sweep failed", zap.Error(err))
			}
		}
	}
}
