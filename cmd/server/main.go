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

	apihttp "dramastream/aggregator/internal/api/http"
	"dramastream/aggregator/internal/app"
	"dramastream/aggregator/internal/metrics"
	registrymongo "dramastream/aggregator/internal/registry/mongo"
	"dramastream/aggregator/internal/search"
	"dramastream/aggregator/internal/telemetry"
	"dramastream/aggregator/internal/upstream"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "drama-aggregator")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "drama-aggregator"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("mongoDB", cfg.MongoDBName),
		slog.Duration("sourceTimeout", cfg.SourceTimeout),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("cacheTTL", cfg.CacheTTL),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 15*time.Second)
	mongoClient, err := registrymongo.Connect(connectCtx, cfg.MongoURI)
	cancelConnect()
	if err != nil {
		logger.Error("mongodb connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.Warn("mongodb disconnect error", slog.String("error", err.Error()))
		}
	}()
	go registrymongo.StartHealthCheck(rootCtx, mongoClient, logger)

	vodRegistry := registrymongo.NewVodRegistry(mongoClient, cfg.MongoDBName)
	shortsRegistry := registrymongo.NewShortsRegistry(mongoClient, cfg.MongoDBName)
	for _, reg := range []*registrymongo.Registry{vodRegistry, shortsRegistry} {
		indexCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		err := reg.EnsureIndexes(indexCtx)
		cancel()
		if err != nil {
			logger.Warn("index creation failed", slog.String("error", err.Error()))
		}
	}

	upstreamClient := upstream.NewClient(upstream.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.SourceTimeout,
	})

	searchService := search.NewService(
		vodRegistry,
		shortsRegistry,
		upstreamClient,
		cfg.SourceTimeout,
		buildServiceOptions(cfg, logger)...,
	)

	handler := apihttp.NewServer(searchService, vodRegistry, shortsRegistry,
		apihttp.WithLogger(logger),
		apihttp.WithCatalog(upstreamClient),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streamed search responses (/search-stream) can legitimately exceed
		// short write timeouts. Rely on per-source timeouts instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("drama aggregator started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("sourceTimeout", cfg.SourceTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("drama aggregator stopped")
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

func buildServiceOptions(cfg app.Config, logger *slog.Logger) []search.ServiceOption {
	var opts []search.ServiceOption

	if cfg.CacheDisabled {
		opts = append(opts, search.WithCacheDisabled(true))
		return opts
	}

	if cfg.CacheTTL > 0 {
		opts = append(opts, search.WithCacheTTL(cfg.CacheTTL))
	}

	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
			return opts
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
			return opts
		}
		logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
		opts = append(opts, search.WithRedisCache(search.NewRedisCacheBackend(redisClient)))
	}

	return opts
}
