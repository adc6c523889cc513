package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/analytics"
	"github.com/patrickwarner/addelivery/internal/api"
	"github.com/patrickwarner/addelivery/internal/config"
	"github.com/patrickwarner/addelivery/internal/db"
	"github.com/patrickwarner/addelivery/internal/geoip"
	"github.com/patrickwarner/addelivery/internal/logic"
	"github.com/patrickwarner/addelivery/internal/logic/filters"
	"github.com/patrickwarner/addelivery/internal/logic/ratelimit"
	"github.com/patrickwarner/addelivery/internal/logic/selectors"
	"github.com/patrickwarner/addelivery/internal/macros"
	"github.com/patrickwarner/addelivery/internal/observability"
	"github.com/patrickwarner/addelivery/internal/reporting"
	"github.com/patrickwarner/addelivery/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.InitLogger(cfg.ServiceName, cfg.Environment, cfg.LogLevel)
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
		shutdown, err := observability.InitTracing(ctx, logger, observability.TracingOptions{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
			Endpoint:    cfg.TempoEndpoint,
			SampleRate:  cfg.TracingSampleRate,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	store, err := db.InitRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	metricsRegistry := observability.NewPrometheusRegistry()
	checks := map[string]api.HealthCheck{
		"postgres": pg.DB.PingContext,
		"redis":    func(ctx context.Context) error { return store.Client.Ping(ctx).Err() },
	}

	var events analytics.EventLog
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.EventRetentionDays, analytics.PoolOptions{
			MaxOpenConns:    cfg.CHMaxOpenConns,
			MaxIdleConns:    cfg.CHMaxIdleConns,
			ConnMaxLifetime: cfg.CHConnMaxLifetime,
			ConnMaxIdleTime: cfg.CHConnMaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer ch.Close()
		events = ch
		checks["clickhouse"] = ch.DB.PingContext
	} else {
		logger.Warn("CLICKHOUSE_DSN empty, keeping events in memory",
			zap.Int("retention_days", cfg.EventRetentionDays))
		mem := analytics.NewMemoryEventLogWithRetention(cfg.EventRetentionDays)
		go mem.Run(time.Hour, ctx.Done())
		events = mem
	}

	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		geoSvc, err = geoip.Open(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
	}

	proxies, err := logic.NewIPResolver(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	limiter := ratelimit.NewClientLimiter(ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillRate,
		Enabled:    cfg.RateLimitEnabled,
	}, metricsRegistry)
	go limiter.Run(time.Minute, ctx.Done())

	capper := logic.NewFrequencyCapper(store, events, cfg.FrequencyCap, metricsRegistry, logger)
	eligibility := filters.NewEligibility(pg, cfg.FallbackTolerance, cfg.MaxCandidates, metricsRegistry, logger)

	// Swap out RuleBasedSelector for a custom one to change how ads are chosen.
	selector := selectors.NewRuleBasedSelector(eligibility, capper)
	selector.SetMetrics(metricsRegistry)
	selector.SetLogger(logger)
	selector.SetLimits(cfg.DefaultSelectLimit, cfg.MaxSelectLimit)

	srvDeps := &api.Server{
		Logger:   logger,
		Selector: selector,
		Recorder: &logic.Recorder{
			Ads:            pg,
			Events:         events,
			Redis:          store,
			Capper:         capper,
			Metrics:        metricsRegistry,
			Logger:         logger,
			DedupWindow:    cfg.DedupWindow,
			CounterRetries: cfg.CounterRetries,
		},
		Reports:    reporting.NewAggregator(pg, events, cfg.TopPerformers, logger),
		Identity:   token.NewVerifier(cfg.TokenSecret, cfg.TokenTTL),
		GeoIP:      geoSvc,
		Limiter:    limiter,
		Proxies:    proxies,
		Macros:     macros.NewExpander(logger, prometheus.DefaultRegisterer),
		Metrics:    metricsRegistry,
		Checks:     checks,
		DebugTrace: cfg.DebugTrace,
		SampleRate: observability.SamplingRate(cfg.Environment),
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      srvDeps.Handler(cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad delivery server running", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
