package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ratelimit-gateway/internal/ratelimit"
	"ratelimit-gateway/internal/ratelimit/admin"
	"ratelimit-gateway/internal/ratelimit/config"
	"ratelimit-gateway/internal/ratelimit/domain"
	"ratelimit-gateway/internal/ratelimit/infra/breaker"
	"ratelimit-gateway/internal/ratelimit/infra/cache"
	"ratelimit-gateway/internal/ratelimit/infra/memstore"
	"ratelimit-gateway/internal/ratelimit/infra/queue"
	"ratelimit-gateway/internal/ratelimit/infra/redisstore"
	"ratelimit-gateway/internal/ratelimit/infra/stats"
	"ratelimit-gateway/internal/ratelimit/infra/throttle"
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Rate-limiting reverse-proxy gateway",
		RunE:  run,
	}
	root.PersistentFlags().String("listen-addr", "", "override LISTEN_ADDR")
	root.PersistentFlags().String("upstream-url", "", "override UPSTREAM_URL")

	if err := root.Execute(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
		os.Setenv("LISTEN_ADDR", v)
	}
	if v, _ := cmd.Flags().GetString("upstream-url"); v != "" {
		os.Setenv("UPSTREAM_URL", v)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.RedisAddr(),
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: cfg.RedisMaxRetries,
	})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	_, pingErr := rdb.Ping(pingCtx).Result()
	pingCancel()
	if pingErr != nil {
		logger.Warn("redis unreachable at startup, primary store will fail open to fallback", zap.Error(pingErr))
	}

	primary := redisstore.New(rdb)
	fallback := memstore.New(cfg.LocalCacheTTL)
	fallback.StartJanitor(ctx)

	br := breaker.New(
		breaker.WithFailureThreshold(cfg.BreakerFailureThreshold),
		breaker.WithCooldown(cfg.BreakerCooldown),
		breaker.WithLogger(logger),
	)

	rateCache := cache.New(br, primary, fallback, cache.WithFallbackEnabled(cfg.EnableInMemoryFallback))

	statsStore := stats.NewRedisStatsStore(rdb)

	ops := queue.NewOperations(rdb, "ratelimit:ops", queue.WithOperationsLogger(logger))
	periodic := queue.NewPeriodic(primary, "rl:*", queue.WithPeriodicLogger(logger),
		queue.WithPeriodicInterval(cfg.PeriodicCleanupEvery))

	// The queue workers run against their own context rather than the
	// signal-bound one, so an in-flight job keeps talking to Redis across
	// the shutdown signal instead of having its call torn down mid-flight;
	// pauseQueues stops them picking up further ticks, and queueCancel is
	// the last-resort cutoff once the drain budget below is spent.
	queueCtx, queueCancel := context.WithCancel(context.Background())
	pauseQueues := make(chan struct{})

	var queueWG sync.WaitGroup
	queueWG.Add(2)
	go func() {
		defer queueWG.Done()
		drainOperationsLoop(queueCtx, pauseQueues, ops, rateCache, logger)
	}()
	go func() {
		defer queueWG.Done()
		queueDepthLoop(queueCtx, pauseQueues, ops, periodic, statsStore, logger)
	}()
	periodic.Start(queueCtx)

	shutdownComplete := make(chan struct{})

	rules := cfg.Rules()

	opts := ratelimit.DefaultOptions(rules, rateCache)
	opts.Stats = statsStore
	opts.RevertQueue = ops
	opts.StandardHeaders = cfg.StandardHeaders
	opts.LegacyHeaders = cfg.LegacyHeaders
	opts.SkipSuccessfulRequests = cfg.SkipSuccessfulRequests
	opts.SkipFailedRequests = cfg.SkipFailedRequests
	opts.Logger = logger
	var localThrottle *throttle.Throttle
	if cfg.EnableLocalThrottle {
		localThrottle = throttle.New(cfg.BurstWindow, cfg.BurstMaxRequests, throttle.WithMaxDelay(cfg.MaxThrottleDelay))
		localThrottle.StartJanitor(ctx, time.Minute)
		opts.Throttle = localThrottle
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	mux := http.NewServeMux()
	mux.Handle("/", proxy)

	adminHandler := admin.New(rateCache, fallback, rules, ops, periodic, localThrottle, logger)
	mux.HandleFunc("/admin/stats", adminHandler.Stats)
	mux.HandleFunc("/admin/reset-rate-limit", adminHandler.Reset)

	h := ratelimit.Middleware(opts)(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.MaxConcurrentRequests,
		AcquireTimeout: cfg.ConcurrencyAcquireTimeout,
	})(h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)

		close(pauseQueues)

		drained := make(chan struct{})
		go func() {
			queueWG.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			logger.Info("queues drained")
		case <-time.After(30 * time.Second):
			logger.Warn("queue drain budget exceeded, cancelling in-flight jobs")
		}
		queueCancel()
		<-drained

		close(shutdownComplete)
	}()

	log.Printf("gateway listening on %s -> %s (env=%s)", cfg.ListenAddr, target, cfg.Environment)
	log.Printf("rules: %d configured, standardHeaders=%v legacyHeaders=%v, maxConcurrentRequests=%d", len(rules), cfg.StandardHeaders, cfg.LegacyHeaders, cfg.MaxConcurrentRequests)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-shutdownComplete
	return nil
}

// drainOperationsLoop repeatedly drains the revert/increment/cleanup queue,
// using the same ticker-goroutine-over-context shape as the store's own
// janitors rather than introducing a second worker pattern. pause stops the
// loop from picking up further ticks without tearing down a call already
// in flight against ctx.
func drainOperationsLoop(ctx context.Context, pause <-chan struct{}, ops *queue.Operations, rateCache domain.Cache, logger *zap.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	handler := func(ctx context.Context, job queue.Job) error {
		switch job.Kind {
		case queue.JobRevert:
			return rateCache.Revert(ctx, job.Key, job.Rule())
		case queue.JobReset:
			return rateCache.Reset(ctx, job.Key)
		default:
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-pause:
			return
		case <-ticker.C:
			if _, err := ops.Drain(ctx, handler); err != nil {
				logger.Error("operations drain failed", zap.Error(err))
			}
		}
	}
}

// queueDepthLoop samples both maintenance queues every 30 seconds and
// records the snapshot for the admin stats surface, doubling as the
// worker's periodic health probe.
func queueDepthLoop(ctx context.Context, pause <-chan struct{}, ops *queue.Operations, periodic *queue.Periodic, statsStore domain.StatsStore, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pause:
			return
		case <-ticker.C:
			depth, err := ops.Depth(ctx)
			if err != nil {
				logger.Error("operations queue depth probe failed", zap.Error(err))
			} else if err := statsStore.RecordQueueDepth(ctx, depth); err != nil {
				logger.Error("recording operations queue depth failed", zap.Error(err))
			}

			if err := statsStore.RecordQueueDepth(ctx, periodic.Depth()); err != nil {
				logger.Error("recording periodic queue depth failed", zap.Error(err))
			}
		}
	}
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
