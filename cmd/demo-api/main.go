// Command demo-api is a small set of business endpoints with the rate-limit
// middleware injected directly, no reverse proxy in front, useful for
// exercising the decision engine end to end without a separate upstream.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
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
)

func main() {
	// demo-api has no upstream to proxy to; UPSTREAM_URL only matters to
	// cmd/gateway, but config.Load validates it unconditionally, so supply
	// a placeholder when the caller hasn't set one.
	if os.Getenv("UPSTREAM_URL") == "" {
		os.Setenv("UPSTREAM_URL", "http://localhost:0")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()

	primary := redisstore.New(rdb)
	fallback := memstore.New(cfg.LocalCacheTTL)
	br := breaker.New(breaker.WithLogger(logger))
	rateCache := cache.New(br, primary, fallback, cache.WithFallbackEnabled(true))
	statsStore := stats.NewMemoryStatsStore(stats.WithTrackKeys(true))
	ops := queue.NewOperations(rdb, "demo:ops", queue.WithOperationsLogger(logger))
	periodic := queue.NewPeriodic(primary, "rl:*", queue.WithPeriodicLogger(logger))
	go queueDepthLoop(context.Background(), ops, periodic, statsStore, logger)

	opts := ratelimit.DefaultOptions(cfg.Rules(), rateCache)
	opts.Stats = statsStore
	opts.RevertQueue = ops
	opts.Logger = logger

	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/data", dataHandler).Methods(http.MethodGet)
	router.HandleFunc("/auth/login", loginHandler).Methods(http.MethodPost)

	adminHandler := admin.New(rateCache, fallback, cfg.Rules(), ops, periodic, nil, logger)
	router.HandleFunc("/admin/stats", adminHandler.Stats).Methods(http.MethodGet)
	router.HandleFunc("/admin/reset-rate-limit", adminHandler.Reset).Methods(http.MethodPost)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})

	h := ratelimit.Middleware(opts)(router)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.MaxConcurrentRequests,
		AcquireTimeout: cfg.ConcurrencyAcquireTimeout,
	})(h)
	h = corsHandler.Handler(h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("demo-api listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func dataHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": []string{"widget", "gadget", "gizmo"},
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": "demo-token-" + req.Username})
}

// queueDepthLoop samples both maintenance queues every 30 seconds and
// records the snapshot for the admin stats surface, doubling as the
// worker's periodic health probe.
func queueDepthLoop(ctx context.Context, ops *queue.Operations, periodic *queue.Periodic, statsStore domain.StatsStore, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
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

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
