package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/api"
	"github.com/aminefth/kidsclub-sub001/internal/cache"
	"github.com/aminefth/kidsclub-sub001/internal/config"
	"github.com/aminefth/kidsclub-sub001/internal/db"
	"github.com/aminefth/kidsclub-sub001/internal/geoip"
	"github.com/aminefth/kidsclub-sub001/internal/ledger"
	"github.com/aminefth/kidsclub-sub001/internal/middleware"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
	"github.com/aminefth/kidsclub-sub001/internal/serving"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	var campaigns models.CampaignStore
	if cfg.PostgresDSN != "" {
		pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
		pg.Timeout = cfg.StoreTimeout
		campaigns = pg
	} else {
		logger.Warn("POSTGRES_DSN not set, campaigns are kept in memory")
		campaigns = models.NewInMemoryCampaignStore()
	}

	var events analytics.EventStore
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer ch.Close()
		ch.Timeout = cfg.StoreTimeout
		events = ch
	} else {
		logger.Warn("CLICKHOUSE_DSN not set, events are kept in memory")
		events = analytics.NewMemoryEventStore()
	}

	// Redis backs the response cache and change notifications. Serving works
	// without it.
	var (
		responseCache *cache.Cache
		notifier      serving.Notifier
	)
	if cfg.RedisAddr != "" {
		store, err := db.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer store.Close()
			notifier = store
			if cfg.CacheEnabled {
				responseCache = cache.New(store, cfg.CacheTimeout, logger, metricsRegistry)
			}
		}
	}

	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		g, err := geoip.Init(cfg.GeoIPDB)
		if err != nil {
			logger.Warn("geoip unavailable, country must be sent by clients", zap.Error(err))
		} else {
			geoSvc = g
			defer func() { _ = geoSvc.Close() }()
		}
	}

	servingSvc := serving.NewService(campaigns, responseCache, notifier, serving.Options{
		CacheTTL:      cfg.SponsoredCacheTTL,
		DefaultLimit:  cfg.DefaultSponsoredLimit,
		MaxLimit:      cfg.MaxSponsoredLimit,
		RetryAttempts: cfg.ReadRetryAttempts,
		RetryBackoff:  cfg.ReadRetryBackoff,
	}, logger, metricsRegistry)

	budget := ledger.New(campaigns, ledger.Options{
		MaxAttempts:       cfg.LedgerMaxAttempts,
		Backoff:           cfg.LedgerRetryBackoff,
		PauseOnExhaustion: cfg.PauseOnBudgetExhausted,
		OnExhausted: func(ctx context.Context, c models.Campaign) {
			servingSvc.CampaignChanged(ctx, "exhausted", c)
		},
	}, logger, metricsRegistry)

	recorder := analytics.NewRecorder(events, budget, logger, metricsRegistry)
	aggregator := analytics.NewAggregator(events, responseCache, analytics.AggregatorOptions{
		CacheTTL:      cfg.AnalyticsCacheTTL,
		RetryAttempts: cfg.ReadRetryAttempts,
		RetryBackoff:  cfg.ReadRetryBackoff,
	}, logger)

	srvDeps := api.NewServer(logger, campaigns, servingSvc, recorder, aggregator, geoSvc, metricsRegistry, cfg)

	r := mux.NewRouter()
	srvDeps.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Use(middleware.WithTraceLogger(logger))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad server running",
		zap.String("addr", addr),
		zap.Bool("postgres", cfg.PostgresDSN != ""),
		zap.Bool("clickhouse", cfg.ClickHouseDSN != ""),
		zap.Bool("cache", responseCache.Enabled()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
