// Package main is the entry point for the bento feed API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/bentofeed/internal/api"
	"github.com/onnwee/bentofeed/internal/config"
	"github.com/onnwee/bentofeed/internal/feed"
	"github.com/onnwee/bentofeed/internal/health"
	"github.com/onnwee/bentofeed/internal/jobs"
	"github.com/onnwee/bentofeed/internal/middleware"
	"github.com/onnwee/bentofeed/internal/override"
	"github.com/onnwee/bentofeed/internal/post"
	"github.com/onnwee/bentofeed/internal/ranking"
	"github.com/onnwee/bentofeed/internal/recommend"
	"github.com/onnwee/bentofeed/internal/tracing"
)

const (
	serviceName     = "bentofeed-api"
	shutdownTimeout = 10 * time.Second

	rateLimitCleanupInterval = time.Minute
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file")
	seedPath := flag.String("seed", "", "JSON file of posts to load into the catalog at startup")
	flag.Parse()

	if *help {
		fmt.Println("Bento Feed API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	env := config.DefaultEnv
	if cfg != nil {
		env = cfg.Env
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *seedPath, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, seedPath string, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, seedPath, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	jobsCtx, cancelJobs := context.WithCancel(ctx)
	defer func() {
		cancelJobs()
		a.runner.Wait()
	}()
	for _, job := range a.jobs {
		a.runner.Start(jobsCtx, job)
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
	}
	return serve(ctx, newServer(a.handler), ln, logger)
}

func newServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serve runs server on ln until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, server *http.Server, ln net.Listener, logger *slog.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
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

// app is the wired server: its handler, background jobs and the resources
// to release on exit.
type app struct {
	handler http.Handler
	runner  *jobs.Runner
	jobs    []jobs.Job
	closers []func(context.Context) error
}

func (a *app) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("failed to release resource", "error", err)
		}
	}
}

func newApp(ctx context.Context, cfg *config.Config, seedPath string, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(logger)
		}
	}()

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   cfg.TracingSamplingRate,
		InsecureMode:   cfg.TracingInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	// LoadCalibration falls back to defaults on error.
	weights, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		logger.Warn("using default ranking weights", "path", cfg.RankingCalibrationPath, "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rankMetrics := ranking.NewMetrics()
	overrideMetrics := override.NewMetrics()
	feedMetrics := feed.NewMetrics()
	recMetrics := recommend.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, r := range []interface{ Register(prometheus.Registerer) error }{
		rankMetrics, overrideMetrics, feedMetrics, recMetrics, httpMetrics, jobMetrics,
	} {
		if err := r.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	a.runner = jobs.NewRunner(jobMetrics, logger)

	checkers := map[string]health.Checker{"database": nil, "redis": nil}

	repo, err := openCatalog(ctx, cfg, a, checkers, logger)
	if err != nil {
		return nil, err
	}
	if seedPath != "" {
		if err := seedCatalog(ctx, repo, seedPath, logger); err != nil {
			return nil, err
		}
	}

	var (
		cache   feed.Cache
		rlStore middleware.RateLimitStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			// Cache and limiter both degrade on Redis errors.
			logger.Warn("redis unreachable at startup", "error", err)
		}
		cache = feed.NewRedisCache(client)
		rlStore = middleware.NewRedisRateLimitStore(client)
		checkers["redis"] = health.NewRedisChecker(client)
		logger.Info("using redis for feed cache and rate limits")
	} else {
		cache = feed.NewMemoryCache(0)
		memStore := middleware.NewInMemoryRateLimitStore()
		rlStore = memStore
		a.jobs = append(a.jobs, jobs.Job{
			Type:     jobs.JobTypeRateLimitCleanup,
			Interval: rateLimitCleanupInterval,
			Run: func(context.Context) error {
				memStore.Cleanup()
				return nil
			},
		})
	}

	feedOpts := []feed.Option{
		feed.WithCache(cache, cfg.FeedCacheTTL()),
		feed.WithWeights(weights),
		feed.WithMetrics(feedMetrics, rankMetrics),
		feed.WithLogger(logger),
	}
	if cfg.RecommenderURL != "" {
		client, err := recommend.NewClient(recommend.ClientConfig{
			BaseURL:           cfg.RecommenderURL,
			Timeout:           cfg.RecommenderTimeout(),
			RequestsPerSecond: cfg.RecommenderRPS,
			Logger:            logger,
			Metrics:           recMetrics,
		})
		if err != nil {
			return nil, err
		}
		feedOpts = append(feedOpts, feed.WithRecommender(client, client))
	} else {
		logger.Info("no recommender configured, serving cold feeds")
	}
	feeds := feed.NewService(repo, feedOpts...)
	overrides := override.NewService(repo, repo,
		override.WithWeights(weights),
		override.WithMetrics(overrideMetrics),
		override.WithLogger(logger),
	)

	// Keeps the anonymous feed warm so cold visitors never pay for a build.
	a.jobs = append(a.jobs, jobs.Job{
		Type:       jobs.JobTypeFeedCacheWarm,
		Interval:   cfg.FeedCacheTTL(),
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			_, err := feeds.Build(ctx, feed.Request{})
			return err
		},
	})

	routerCfg := api.RouterConfig{
		Feed:        api.NewFeedHandlers(feeds, logger),
		Overrides:   api.NewOverrideHandlers(overrides, logger),
		Health:      api.NewHealthHandlers(checkers, logger),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		HTTPMetrics: httpMetrics,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logger,
	}
	if cfg.RateLimitEnabled {
		routerCfg.RateLimitStore = rlStore
		routerCfg.FeedLimit = middleware.RateLimitConfig{Requests: cfg.FeedRateLimit, Window: time.Minute}
		routerCfg.AdminLimit = middleware.RateLimitConfig{Requests: cfg.AdminRateLimit, Window: time.Minute}
	}
	if tp.IsEnabled() {
		routerCfg.TracingService = serviceName
	}
	a.handler = api.NewRouter(routerCfg)

	return a, nil
}

// openCatalog returns the SQL repository when a database is configured and an
// in-memory one otherwise.
func openCatalog(ctx context.Context, cfg *config.Config, a *app, checkers map[string]health.Checker, logger *slog.Logger) (post.Repository, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, catalog is in memory and lost on restart")
		return post.NewInMemoryRepository(), nil
	}

	dialect, err := post.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	db, err := post.OpenDB(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	repo := post.NewSQLRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	checkers["database"] = health.NewDBChecker(db)
	logger.Info("catalog database ready", "driver", string(dialect))
	return repo, nil
}

func seedCatalog(ctx context.Context, repo post.Repository, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	posts, err := post.DecodeBatch(f)
	if err != nil {
		return err
	}
	n, err := post.Import(ctx, repo, posts)
	if err != nil {
		return err
	}
	logger.Info("seeded catalog", "posts", n, "path", path)
	return nil
}
