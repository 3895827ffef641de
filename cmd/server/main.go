package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	apihttp "mediaindex/internal/api/http"
	"mediaindex/internal/app"
	"mediaindex/internal/broadcast"
	"mediaindex/internal/cache"
	"mediaindex/internal/core"
	"mediaindex/internal/index"
	"mediaindex/internal/metrics"
	"mediaindex/internal/ratelimit"
	"mediaindex/internal/search"
	"mediaindex/internal/storage"
	memorystore "mediaindex/internal/storage/memory"
	mongostore "mediaindex/internal/storage/mongo"
	postgresstore "mediaindex/internal/storage/postgres"
	"mediaindex/internal/telemetry"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "mediaindex")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "mediaindex"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("storageBackend", cfg.StorageBackend),
		slog.String("dedupPolicy", cfg.DedupPolicy),
		slog.Duration("retentionTtl", cfg.RetentionTTL),
		slog.Bool("redisCache", cfg.RedisURL != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed",
			slog.String("backend", cfg.StorageBackend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var cacheOpts []cache.Option
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("redis url invalid", slog.String("error", err.Error()))
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed", slog.String("error", err.Error()))
		}
		cacheOpts = append(cacheOpts, cache.WithRedis(cache.NewRedisBackend(redisClient, cfg.CacheTTL)))
	}

	recordCache := cache.New(backend, cache.Config{
		MaxEntries: cfg.CacheMaxEntries,
		TTL:        cfg.CacheTTL,
	}, logger, cacheOpts...)

	policy := index.DedupPolicy(cfg.DedupPolicy)
	if policy != index.DedupMerge && policy != index.DedupStrict {
		logger.Warn("unknown dedup policy, falling back to merge", slog.String("policy", cfg.DedupPolicy))
		policy = index.DedupMerge
	}
	manager := index.NewManager(backend, policy, logger, index.WithInvalidator(recordCache))
	if err := manager.SeedVocabulary(ctx); err != nil {
		logger.Warn("vocabulary seed failed", slog.String("error", err.Error()))
	}

	limiter := ratelimit.New(map[string]ratelimit.ClassConfig{
		core.SearchRateClass: {RPS: cfg.SearchRPS, Burst: cfg.SearchBurst},
		broadcast.RateClass:  {RPS: cfg.BroadcastRPS, Burst: cfg.BroadcastBurst},
	})

	engine := search.NewEngine(backend, recordCache, recordCache, manager.Vocab(), search.Config{
		MaxCandidates:  cfg.MaxCandidates,
		FuzzyThreshold: cfg.FuzzyThreshold,
	}, logger)

	var sender broadcast.Sender
	if cfg.DeliveryURL != "" {
		sender = broadcast.NewWebhookSender(cfg.DeliveryURL, cfg.DeliveryTimeout)
	} else {
		logger.Warn("no delivery endpoint configured, broadcasts run in dry-run mode")
		sender = &broadcast.LogSender{Logger: logger}
	}

	retry := broadcast.DefaultRetryConfig()
	if cfg.BroadcastRetries > 0 {
		retry.MaxAttempts = cfg.BroadcastRetries
	}
	dispatcher := broadcast.NewDispatcher(backend, sender, limiter, broadcast.Config{
		ChunkSize: cfg.BroadcastChunkSize,
		Retry:     retry,
	}, logger, nil)

	service := core.NewService(backend, recordCache, manager, engine, dispatcher, limiter, logger)

	janitor := core.NewJanitor(manager, cfg.RetentionTTL, cfg.SweepInterval, logger)
	go janitor.Run(rootCtx)

	handler := apihttp.NewServer(service,
		apihttp.WithLogger(logger),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)
	dispatcher.SetNotifier(handler.Notifier())

	if resumed, err := dispatcher.Resume(ctx); err != nil {
		logger.Warn("broadcast resume failed", slog.String("error", err.Error()))
	} else if resumed > 0 {
		logger.Info("resumed unfinished broadcasts", slog.Int("count", resumed))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	dispatcher.Shutdown()
	if err := backend.Close(shutdownCtx); err != nil {
		logger.Warn("storage close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func openBackend(ctx context.Context, cfg app.Config, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "mongo":
		client, err := mongostore.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return nil, err
		}
		store := mongostore.NewStore(client, cfg.MongoDatabase)
		if err := store.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		return store, nil
	case "postgres":
		db, err := postgresstore.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		store := postgresstore.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		logger.Warn("using in-memory storage, records are lost on restart")
		return memorystore.NewStore(), nil
	default:
		return nil, errors.New("unknown storage backend: " + cfg.StorageBackend)
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
