package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig is a fixed-window limit: at most Requests per Window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Validate checks that both fields are positive.
func (c RateLimitConfig) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("rate limit requests must be > 0 (got %d)", c.Requests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be > 0 (got %s)", c.Window)
	}
	return nil
}

// Default limits per route group.
var (
	DefaultFeedLimit  = RateLimitConfig{Requests: 120, Window: time.Minute}
	DefaultAdminLimit = RateLimitConfig{Requests: 30, Window: time.Minute}
)

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitStore holds per-key counters.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, cfg RateLimitConfig) (RateLimitResult, error)
}

type window struct {
	count int
	end   time.Time
}

// InMemoryRateLimitStore keeps fixed-window counters in process memory.
// Thread-safe for concurrent access.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(ctx context.Context, key string, cfg RateLimitConfig) (RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.end) {
		s.windows[key] = &window{count: 1, end: now.Add(cfg.Window)}
		return RateLimitResult{Allowed: true, Remaining: cfg.Requests - 1}, nil
	}
	if w.count < cfg.Requests {
		w.count++
		return RateLimitResult{Allowed: true, Remaining: cfg.Requests - w.count}, nil
	}
	return RateLimitResult{RetryAfter: w.end.Sub(now)}, nil
}

// Cleanup removes expired windows. Call it periodically.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		if !now.Before(w.end) {
			delete(s.windows, key)
		}
	}
}

// RedisRateLimitStore keeps fixed-window counters in Redis so limits hold
// across API replicas.
type RedisRateLimitStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimitStore creates a Redis-backed store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, prefix: "bento:ratelimit:"}
}

// Allow implements RateLimitStore. The window starts at the first request of
// a key and is not extended by later ones.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, cfg RateLimitConfig) (RateLimitResult, error) {
	key = s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateLimitResult{Allowed: true, Remaining: cfg.Requests}, fmt.Errorf("redis rate limit: %w", err)
	}

	count := int(incr.Val())
	remaining := ttl.Val()
	if count == 1 || remaining < 0 {
		if err := s.client.PExpire(ctx, key, cfg.Window).Err(); err != nil {
			return RateLimitResult{Allowed: true, Remaining: cfg.Requests}, fmt.Errorf("redis rate limit expire: %w", err)
		}
		remaining = cfg.Window
	}

	if count <= cfg.Requests {
		return RateLimitResult{Allowed: true, Remaining: cfg.Requests - count}, nil
	}
	return RateLimitResult{RetryAfter: remaining}, nil
}

// KeyFunc extracts a rate limit key and its type label from a request.
type KeyFunc func(r *http.Request) (key, keyType string)

// ClientIPKey keys by client IP. X-Viewer-ID is caller-supplied, so it never
// selects the budget. Run chi's RealIP middleware first when behind a proxy.
func ClientIPKey(r *http.Request) (string, string) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host, "ip"
}

const rateLimitedBody = `{"error":{"code":"rate_limited","message":"Too many requests"}}`

// RateLimiter rejects requests over cfg with 429. group names the route
// group in keys and metrics. Store errors let the request through.
func RateLimiter(store RateLimitStore, cfg RateLimitConfig, group string, keyFunc KeyFunc, metrics *Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, keyType := keyFunc(r)
			if metrics != nil {
				metrics.IncRateLimitRequests(group, keyType)
			}

			res, err := store.Allow(r.Context(), group+":"+key, cfg)
			if err != nil {
				if metrics != nil {
					metrics.IncRateLimitStoreErrors()
				}
				logger.WarnContext(r.Context(), "rate limit store failed, allowing request",
					"group", group,
					"error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.IncRateLimitBlocked(group, keyType)
			}
			SetErrorCode(r.Context(), "rate_limited")

			retry := int(res.RetryAfter.Round(time.Second) / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(rateLimitedBody))
		})
	}
}
