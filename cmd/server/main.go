package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"

	"github.com/developer-mesh/translation-gateway/internal/api"
	"github.com/developer-mesh/translation-gateway/internal/cache"
	"github.com/developer-mesh/translation-gateway/internal/coalescer"
	"github.com/developer-mesh/translation-gateway/internal/config"
	"github.com/developer-mesh/translation-gateway/internal/languages"
	"github.com/developer-mesh/translation-gateway/internal/metrics"
	"github.com/developer-mesh/translation-gateway/internal/provider"
	"github.com/developer-mesh/translation-gateway/internal/translator"
	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewStandardLogger("translation-gateway").
		WithLevel(observability.ParseLogLevel(cfg.Logging.Level))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, logger.WithPrefix("tracing"))
	if err != nil {
		logger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Tracing shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	catalogue, err := languages.LoadOrDefault(cfg.LanguagesFile)
	if err != nil {
		logger.Fatal("Failed to load language catalogue", map[string]interface{}{"error": err.Error()})
	}

	tieredCache, err := newTieredCache(cfg, tp, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		if err := tieredCache.Close(); err != nil {
			logger.Warn("Cache close error", map[string]interface{}{"error": err.Error()})
		}
	}()

	client := provider.NewClient(provider.Config{
		AppID:     cfg.Provider.AppID,
		SecretKey: cfg.Provider.SecretKey,
		BaseURL:   cfg.Provider.BaseURL,
		QPS:       cfg.Provider.QPS,
		Burst:     cfg.Provider.Burst,
		Logger:    logger.WithPrefix("provider"),
	})

	tr := translator.New(client, tieredCache, translator.Config{
		MaxConcurrentRequests: cfg.Translator.MaxConcurrentRequests,
		UpstreamTimeout:       cfg.Translator.UpstreamTimeout,
		MaxAttempts:           cfg.Translator.MaxAttempts,
		RetryBase:             cfg.Translator.RetryBase,
		CacheTTL:              cfg.Cache.TTL,
		MaxBatchSize:          cfg.Translator.MaxBatchSize,
		MaxChunkChars:         cfg.Translator.MaxTextLength,
		Logger:                logger.WithPrefix("translator"),
		Metrics:               m,
		TracerProvider:        tp,
	})

	merger := coalescer.New(tr, coalescer.Config{
		MergeWindow:        cfg.Coalescer.MergeWindow,
		ResultCacheTTL:     cfg.Coalescer.ResultCacheTTL,
		ResultCacheSize:    cfg.Coalescer.ResultCacheSize,
		SweepInterval:      cfg.Coalescer.SweepInterval,
		GroupTimeoutFactor: cfg.Coalescer.GroupTimeoutFactor,
		Logger:             logger.WithPrefix("coalescer"),
		Metrics:            m,
	})
	defer func() { _ = merger.Close() }()

	server := api.NewServer(api.Dependencies{
		Translator:     tr,
		Coalescer:      merger,
		Cache:          tieredCache,
		Languages:      catalogue,
		Metrics:        m,
		Gatherer:       registry,
		TracerProvider: tp,
		Logger:         logger.WithPrefix("api"),
	}, api.Config{
		ListenAddress: fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		MaxTextLength: cfg.Translator.MaxTextLength,
		MaxBatchItems: cfg.Translator.MaxBatchItems,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("Translation gateway started", map[string]interface{}{
		"port":           cfg.Server.Port,
		"env":            cfg.Environment,
		"redis_enabled":  cfg.Redis.Enabled,
		"max_concurrent": cfg.Translator.MaxConcurrentRequests,
		"merge_window":   cfg.Coalescer.MergeWindow.String(),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil {
			logger.Error("API server stopped unexpectedly", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Server stopped gracefully", nil)
}

// newTieredCache builds the multi-tier cache. An unreachable Redis leaves the
// gateway running on the local tier; the breaker keeps probing it.
func newTieredCache(cfg *config.Config, tp trace.TracerProvider, m *metrics.Metrics, logger observability.Logger) (*cache.TieredCache, error) {
	codec, err := cache.NewCodec(cfg.Cache.Codec, cfg.Cache.CompressionLevel)
	if err != nil {
		return nil, err
	}

	var store cache.DurableStore
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(cache.RedisStoreConfig{
			Addr:             cfg.Redis.Addr,
			Password:         cfg.Redis.Password,
			DB:               cfg.Redis.DB,
			PoolSize:         cfg.Redis.PoolSize,
			KeyPrefix:        cfg.Redis.KeyPrefix,
			ConnectTimeout:   cfg.Redis.ConnectTimeout,
			OperationTimeout: cfg.Redis.OperationTimeout,
			Logger:           logger.WithPrefix("redis"),
		})
		if err != nil {
			logger.Warn("Redis unavailable, serving from the local tier until it recovers", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
		}
		store = cache.NewTracedStore(redisStore, tp)
	}

	return cache.NewTieredCache(cache.TieredCacheConfig{
		LocalMaxSize:       cfg.Cache.MemorySize,
		LocalTTLCap:        cfg.Cache.MemoryTTL,
		JanitorInterval:    cfg.Cache.JanitorInterval,
		Store:              store,
		DefaultTTL:         cfg.Cache.TTL,
		EnableCompression:  cfg.Cache.CompressionEnabled,
		CompressionMinSize: cfg.Cache.CompressionMinSize,
		Codec:              codec,
		Logger:             logger.WithPrefix("cache"),
		Metrics:            m,
	}), nil
}
