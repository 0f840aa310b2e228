// Package config loads the gateway's settings from the environment and
// builds the Rule set the middleware composer evaluates: typed getenv
// helpers feeding a flat struct that is validated once at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ratelimit-gateway/internal/ratelimit/domain"
	"ratelimit-gateway/internal/ratelimit/identifier"
)

// Config is every environment-driven setting recognised by the gateway.
type Config struct {
	ListenAddr  string
	UpstreamURL string
	Environment string

	AllowedOrigins []string

	RedisHost            string
	RedisPort            string
	RedisPassword        string
	RedisMaxRetries      int
	RedisDB              int
	LocalCacheTTL        time.Duration
	WorkerCount          int
	PeriodicCleanupEvery time.Duration

	StandardHeaders        bool
	LegacyHeaders          bool
	SkipSuccessfulRequests bool
	SkipFailedRequests     bool

	EnableLocalThrottle    bool
	MaxThrottleDelay       time.Duration
	EnableInMemoryFallback bool

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	MaxConcurrentRequests     int
	ConcurrencyAcquireTimeout time.Duration

	GlobalWindow      time.Duration
	GlobalMaxRequests int

	PerEndpointWindow      time.Duration
	PerEndpointMaxRequests int

	AuthWindow      time.Duration
	AuthMaxRequests int

	BurstWindow      time.Duration
	BurstMaxRequests int
}

// Load reads every recognised environment variable, falling back to
// documented defaults, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:  String("LISTEN_ADDR", ":8080"),
		UpstreamURL: String("UPSTREAM_URL", ""),
		Environment: String("ENVIRONMENT", "development"),

		AllowedOrigins: StringList("ALLOWED_ORIGINS", []string{"*"}),

		RedisHost:            String("REDIS_HOST", "localhost"),
		RedisPort:            String("REDIS_PORT", "6379"),
		RedisPassword:        String("REDIS_PASSWORD", ""),
		RedisMaxRetries:      Int("MAX_RETRIES_PER_REQUEST", 3),
		RedisDB:              Int("REDIS_DB", 0),
		LocalCacheTTL:        Duration("LOCAL_CACHE_TTL", 60*time.Second),
		WorkerCount:          Int("WORKER_COUNT", 1),
		PeriodicCleanupEvery: Duration("PERIODIC_CLEANUP_INTERVAL", 10*time.Minute),

		StandardHeaders:        Bool("STANDARD_HEADERS", true),
		LegacyHeaders:          Bool("LEGACY_HEADERS", true),
		SkipSuccessfulRequests: Bool("SKIP_SUCCESSFUL_REQUESTS", false),
		SkipFailedRequests:     Bool("SKIP_FAILED_REQUESTS", false),

		EnableLocalThrottle:    Bool("ENABLE_LOCAL_THROTTLE", false),
		MaxThrottleDelay:       Duration("MAX_THROTTLE_DELAY", time.Second),
		EnableInMemoryFallback: Bool("ENABLE_IN_MEMORY_FALLBACK", false),

		BreakerFailureThreshold: Int("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         Duration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),

		MaxConcurrentRequests:     Int("MAX_CONCURRENT_REQUESTS", 0),
		ConcurrencyAcquireTimeout: Duration("CONCURRENCY_ACQUIRE_TIMEOUT", 5*time.Second),

		GlobalWindow:      Duration("GLOBAL_RULE_WINDOW", time.Minute),
		GlobalMaxRequests: Int("GLOBAL_RULE_MAX_REQUESTS", 100),

		PerEndpointWindow:      Duration("PER_ENDPOINT_RULE_WINDOW", time.Minute),
		PerEndpointMaxRequests: Int("PER_ENDPOINT_RULE_MAX_REQUESTS", 30),

		AuthWindow:      Duration("AUTH_RULE_WINDOW", 15*time.Minute),
		AuthMaxRequests: Int("AUTH_RULE_MAX_REQUESTS", 5),

		BurstWindow:      Duration("BURST_RULE_WINDOW", time.Second),
		BurstMaxRequests: Int("BURST_RULE_MAX_REQUESTS", 50),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if c.RedisMaxRetries < 0 {
		return errors.New("MAX_RETRIES_PER_REQUEST must be >= 0")
	}
	if c.LocalCacheTTL <= 0 {
		return errors.New("LOCAL_CACHE_TTL must be > 0")
	}
	if c.WorkerCount <= 0 {
		return errors.New("WORKER_COUNT must be > 0")
	}
	for name, pair := range map[string][2]int{
		"GLOBAL_RULE":       {int(c.GlobalWindow), c.GlobalMaxRequests},
		"PER_ENDPOINT_RULE": {int(c.PerEndpointWindow), c.PerEndpointMaxRequests},
		"AUTH_RULE":         {int(c.AuthWindow), c.AuthMaxRequests},
		"BURST_RULE":        {int(c.BurstWindow), c.BurstMaxRequests},
	} {
		if pair[0] <= 0 || pair[1] <= 0 {
			return fmt.Errorf("%s window and max requests must both be > 0", name)
		}
	}
	return nil
}

// RedisAddr is the host:port pair go-redis expects.
func (c Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// Rules builds the example policy set (global per-client, per-endpoint,
// authentication-class, burst) from the loaded config: rule limits are
// always config-driven, never hardcoded in the request path.
func (c Config) Rules() []domain.Rule {
	healthSkip := domain.PathPrefixSkipFunc{Prefixes: []string{"/health"}}

	return []domain.Rule{
		{
			ID:          "global",
			Window:      c.GlobalWindow,
			MaxRequests: c.GlobalMaxRequests,
			Algorithm:   domain.Sliding,
			Message:     "Too many requests, please try again later.",
			SkipFn:      healthSkip,
		},
		{
			ID:          "per-endpoint",
			Window:      c.PerEndpointWindow,
			MaxRequests: c.PerEndpointMaxRequests,
			Algorithm:   domain.Fixed,
			Message:     "Too many requests to this endpoint, please slow down.",
			KeyFn:       pathScopedKeyFunc{},
			SkipFn:      healthSkip,
		},
		{
			ID:          "auth",
			Window:      c.AuthWindow,
			MaxRequests: c.AuthMaxRequests,
			Algorithm:   domain.Sliding,
			StatusCode:  423,
			Message:     "Too many authentication attempts, please try again later.",
			KeyFn:       domain.HeaderKeyFunc{Header: "Authorization"},
			SkipFn:      pathPrefixRequiredSkipFunc{prefixes: []string{"/auth"}},
		},
		{
			ID:          "burst",
			Window:      c.BurstWindow,
			MaxRequests: c.BurstMaxRequests,
			Algorithm:   domain.Sliding,
			Message:     "Request burst detected, please slow down.",
			SkipFn:      healthSkip,
		},
	}
}

// pathScopedKeyFunc differentiates the per-endpoint rule's counters by
// request path in addition to client identifier, so the same client is
// tracked independently per endpoint.
type pathScopedKeyFunc struct{}

func (pathScopedKeyFunc) Key(req domain.Request) string {
	return identifier.Extract(req, req.RemoteAddr) + ":" + req.Path
}

// pathPrefixRequiredSkipFunc is the inverse of domain.PathPrefixSkipFunc: the
// rule is inert unless the request path matches one of prefixes.
type pathPrefixRequiredSkipFunc struct {
	prefixes []string
}

func (p pathPrefixRequiredSkipFunc) Skip(req domain.Request) bool {
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(req.Path, prefix) {
			return false
		}
	}
	return true
}
