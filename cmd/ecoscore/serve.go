package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/onnwee/ecoscore/internal/aggregation"
	"github.com/onnwee/ecoscore/internal/brand"
	"github.com/onnwee/ecoscore/internal/cache"
	"github.com/onnwee/ecoscore/internal/config"
	"github.com/onnwee/ecoscore/internal/health"
	"github.com/onnwee/ecoscore/internal/jobs"
	"github.com/onnwee/ecoscore/internal/middleware"
	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/recompute"
	"github.com/onnwee/ecoscore/internal/store"
	"github.com/onnwee/ecoscore/internal/tracing"
	"github.com/onnwee/ecoscore/migrations"
)

const shutdownTimeout = 10 * time.Second

var errInvalidConfig = errors.New("invalid configuration")

type serveOptions struct {
	configPath string
	migrate    bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recompute job and the operations server",
		Long: `Recompute dirty verticals periodically and serve rankings, health and
metrics on the operations port.

Configuration is read from --config and overridden by environment variables
(DATABASE_URL, REDIS_URL, POLICIES_PATH, OPS_PORT, WORKERS, ...). Every
vertical is recomputed once at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration YAML file")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply pending schema migrations before starting")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, errs := config.Load(opts.configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			slog.Error("configuration error", "error", err)
		}
		return fmt.Errorf("%w: %w", errInvalidConfig, errors.Join(errs...))
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("starting ecoscore", "version", version, "config", cfg.LogSummary())

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
		ServiceVersion: version,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	registry, err := policy.Load(cfg.PoliciesPath, logger)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if opts.migrate {
		applied, err := migrations.Up(ctx, db)
		if err != nil {
			return err
		}
		logger.Info("schema migrated", "applied", applied)
	}

	checkers := map[string]health.Checker{"postgres": health.NewDBChecker(db)}

	var (
		redisClient redis.UniversalClient
		ratings     brand.RatingSource
	)
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()
		ratings = brand.NewRedisSource(redisClient)
		checkers["redis"] = health.NewRedisChecker(redisClient)
	} else {
		logger.Warn("REDIS_URL not set: brand ratings and the ranking cache are disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	aggMetrics := aggregation.NewMetrics()
	recomputeMetrics := recompute.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	cacheMetrics := cache.NewMetrics()
	for _, m := range []interface{ Register(prometheus.Registerer) error }{
		aggMetrics, recomputeMetrics, jobMetrics, cacheMetrics,
	} {
		if err := m.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	engine := aggregation.NewEngine(aggregation.Config{
		Logger:  logger,
		Metrics: aggMetrics,
		Workers: cfg.Workers,
	}, aggregation.DefaultProducers(ratings)...)

	pg := store.NewPostgresStore(db, logger)
	defer pg.ScoreStats().LogSummary(logger, "product_scores")
	defer pg.ProductStats().LogSummary(logger, "products")
	dirty := recompute.NewDirtyTracker()
	dirty.MarkDirty(registry.IDs()...)

	srv := &opsServer{
		logger:     logger,
		registry:   registry,
		engine:     engine,
		dirty:      dirty,
		store:      pg,
		jobMetrics: jobMetrics,
		health:     health.NewHandler(logger, checkers),
		metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}

	var publisher recompute.RankingPublisher
	if redisClient != nil {
		rankings := cache.NewRankingCache(redisClient, cfg.RankingCacheTTL, logger, cacheMetrics)
		publisher = rankings
		srv.cache = rankings
	}

	job := recompute.NewRecomputeJob(recompute.RecomputeJobConfig{
		Interval:    cfg.RecomputeInterval,
		Timeout:     cfg.RecomputeTimeout,
		Parallelism: max(1, cfg.Workers/2),
		Logger:      logger,
		Metrics:     recomputeMetrics,
		JobMetrics:  jobMetrics,
	}, registry, engine, dirty, pg, pg, publisher)
	srv.job = job

	if err := job.Start(ctx); err != nil {
		return fmt.Errorf("start recompute job: %w", err)
	}
	defer job.Stop()
	go job.RecomputeNow(ctx)
	go store.RunPeriodicPurge(ctx, pg, store.PurgeJobConfig{Logger: logger, JobMetrics: jobMetrics})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.OpsPort),
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, logger)
}

// serveUntilDone runs server until ctx is cancelled, then shuts it down
// gracefully.
func serveUntilDone(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
