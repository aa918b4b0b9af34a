// Command analytics runs the standalone search analytics service.
//
// It consumes search and index events from the analytics Kafka topic,
// aggregates them in memory (query volume, latency percentiles, cache hit
// rate, top and zero-result queries) and serves the aggregate at
// GET /api/v1/analytics. When Postgres is enabled the aggregate is
// snapshotted periodically and past snapshots are served at
// GET /api/v1/analytics/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics"
	analyticsstore "github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Kafka.Enabled {
		fmt.Fprintln(os.Stderr, "analytics service requires kafka.enabled")
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator(cfg.Analytics.LatencyWindow)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		select {
		case <-consumerDone:
			return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
		}
	})

	var (
		snapshotsDone <-chan struct{}
		snapshots     analytics.SnapshotLister
	)
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to analytics database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store := analyticsstore.NewStore(pg.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare analytics schema", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.PingCheck(pg.Ping))
		snapshots = store
		if prev, ok, err := store.Latest(ctx); err != nil {
			slog.Warn("could not read previous analytics snapshot", "error", err)
		} else if ok {
			agg.Restore(prev.Stats)
		}
		if cfg.Analytics.SnapshotInterval > 0 {
			snapshotsDone = store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
		}
	}

	analyticsHandler := analytics.NewHandler(agg, snapshots)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", analyticsHandler.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.CORS(cfg.CORS.AllowOrigins)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
	}

	stop()
	<-consumerDone
	if snapshotsDone != nil {
		<-snapshotsDone
	}
	slog.Info("analytics service stopped")
}
