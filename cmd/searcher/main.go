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
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics"
	analyticsstore "github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/source"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/redis"
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

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting chat search service",
		"port", cfg.Server.Port,
		"ingestion_mode", cfg.Ingestion.Mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		metricsServer.Start()
		defer metricsServer.Shutdown(context.Background())
	}

	engine := indexer.NewEngine()
	exec := executor.New(engine, cfg.Search.SnippetContext)
	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		stats := engine.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents, %d terms", stats.Documents, stats.Terms),
		}
	})

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL)
			checker.RegisterOptional("redis", health.PingCheck(redisClient.Ping))
			slog.Info("search cache enabled",
				"addr", cfg.Redis.Addr,
				"ttl", cfg.Redis.CacheTTL,
			)
		}
	}

	agg := analytics.NewAggregator(cfg.Analytics.LatencyWindow)
	var analyticsSink analytics.Sink
	var batchCollector *collector.BatchCollector
	if cfg.Analytics.Publish {
		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer analyticsProducer.Close()
		batchCollector = collector.NewBatchCollector(analyticsProducer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		batchCollector.Start(ctx)
		analyticsSink = batchCollector
		checker.RegisterOptional("analytics-publisher", func(ctx context.Context) health.ComponentHealth {
			st := batchCollector.Stats()
			status := health.StatusUp
			if st.Failures > 0 || st.Dropped > 0 {
				status = health.StatusDegraded
			}
			return health.ComponentHealth{
				Status:  status,
				Message: fmt.Sprintf("published %d, dropped %d, failed flushes %d", st.Published, st.Dropped, st.Failures),
			}
		})
		slog.Info("analytics publishing enabled", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	}
	tracker := analytics.NewCollector(agg, analyticsSink)

	applierOpts := []consumer.Option{
		consumer.WithTracker(tracker),
		consumer.WithMetrics(m),
	}
	if queryCache != nil {
		applierOpts = append(applierOpts, consumer.WithInvalidator(queryCache))
	}

	var syncer *source.Syncer
	var (
		snapshotsDone <-chan struct{}
		snapshots     analytics.SnapshotLister
	)
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to chat history database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		checker.RegisterOptional("postgres", health.PingCheck(pg.Ping))
		syncer = source.NewSyncer(source.NewPostgresLoader(pg), engine, cfg.Sync, m)
		checker.RegisterOptional("chat-history", syncer.Health)
		applierOpts = append(applierOpts, consumer.WithResyncer(syncer))

		if cfg.Analytics.SnapshotInterval > 0 {
			store := analyticsstore.NewStore(pg.DB)
			if err := store.EnsureSchema(ctx); err != nil {
				slog.Warn("analytics snapshots disabled", "error", err)
			} else {
				restoreAnalytics(ctx, store, agg)
				snapshots = store
				snapshotsDone = store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
			}
		}
	}
	applier := consumer.NewApplier(engine, applierOpts...)

	if syncer != nil && cfg.Sync.ResyncOnStart {
		if _, err := applier.Submit(ctx, resyncEvents()); err != nil {
			slog.Warn("initial resync failed, starting with an empty index", "error", err)
		}
	}

	var sink ingesthandler.Sink = applier
	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumerOpts := []kafka.ConsumerOption{kafka.HandlerAttempts(cfg.Kafka.HandlerAttempts)}
		if !cfg.Postgres.Enabled {
			// Without a history source the topic is the only record of the index.
			consumerOpts = append(consumerOpts, kafka.FromBeginning())
		}
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ChatSync, consumer.HandleMessage(applier), consumerOpts...)
		indexConsumer := consumer.New(kc)
		go func() {
			defer close(consumerDone)
			if err := indexConsumer.Start(ctx); err != nil {
				slog.Error("chat sync consumer error", "error", err)
			}
		}()
		checker.RegisterOptional("chat-sync", func(ctx context.Context) health.ComponentHealth {
			select {
			case <-consumerDone:
				return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
			default:
			}
			stats := indexConsumer.Stats()
			return health.ComponentHealth{
				Status:  health.StatusUp,
				Message: fmt.Sprintf("lag %d, processed %d, skipped %d", stats.Lag, stats.Processed, stats.Skipped),
			}
		})
		if cfg.Ingestion.Mode == config.IngestKafka {
			chatProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ChatSync)
			defer chatProducer.Close()
			sink = publisher.New(chatProducer)
		}
	} else {
		close(consumerDone)
	}

	searchHandler := handler.New(exec, engine, queryCache, tracker, m, handler.Limits{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		QueryTimeout: cfg.Search.QueryTimeout,
	})
	ingestHandler := ingesthandler.New(sink, engine, cfg.Ingestion.MaxBodyBytes)
	analyticsHandler := analytics.NewHandler(agg, snapshots)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", searchHandler.Search)
	mux.HandleFunc("POST /api/v1/search", searchHandler.SearchJSON)
	mux.HandleFunc("POST /api/v1/documents", ingestHandler.AddDocument)
	mux.HandleFunc("POST /api/v1/documents/batch", ingestHandler.AddDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}", ingestHandler.GetDocument)
	mux.HandleFunc("DELETE /api/v1/index", ingestHandler.Clear)
	mux.HandleFunc("POST /api/v1/index/resync", ingestHandler.Resync)
	mux.HandleFunc("GET /api/v1/index/stats", searchHandler.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", searchHandler.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", searchHandler.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", analyticsHandler.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		defer limiter.Close()
		chain = middleware.RateLimit(limiter, m)(chain)
	}
	chain = middleware.CORS(cfg.CORS.AllowOrigins)(chain)
	if cfg.Tracing.Enabled {
		chain = middleware.Trace(chain)
	}
	chain = middleware.RequestID(chain)
	chain = middleware.Metrics(m)(chain)

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

	slog.Info("chat search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		stop()
	}

	stop()
	waitFor("chat sync consumer", consumerDone, cfg.Server.ShutdownTimeout)
	if batchCollector != nil {
		batchCollector.Close()
	}
	if snapshotsDone != nil {
		waitFor("analytics snapshot", snapshotsDone, cfg.Server.ShutdownTimeout)
	}
	slog.Info("chat search service stopped")
}

// restoreAnalytics carries the totals of the newest snapshot into agg.
func restoreAnalytics(ctx context.Context, store *analyticsstore.Store, agg *analytics.Aggregator) {
	snap, ok, err := store.Latest(ctx)
	switch {
	case err != nil:
		slog.Warn("could not read previous analytics snapshot", "error", err)
	case ok:
		agg.Restore(snap.Stats)
		slog.Info("analytics totals restored", "snapshot_id", snap.ID, "captured_at", snap.CapturedAt)
	}
}

func resyncEvents() []ingestion.ChatEvent {
	return []ingestion.ChatEvent{{Type: ingestion.EventResync}}
}

func waitFor(name string, done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("timed out waiting for shutdown", "component", name)
	}
}
