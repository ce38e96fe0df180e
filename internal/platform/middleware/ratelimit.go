package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/healthlink/healthlink/internal/platform/auth"
	"github.com/healthlink/healthlink/pkg/response"
)

// RateLimitConfig holds per-client rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL is how long an idle client's limiter is kept.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		IdleTTL:           3 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	cfg      RateLimitConfig
	now      func() time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	return &limiterStore{visitors: make(map[string]*visitor), cfg: cfg, now: time.Now}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// evict drops limiters idle for longer than IdleTTL.
func (s *limiterStore) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.cfg.IdleTTL)
	for k, v := range s.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(s.visitors, k)
		}
	}
}

// RateLimit limits requests per caller with a token bucket. Authenticated
// callers are keyed by subject, anonymous ones by client IP, so it must run
// after the auth middleware. Idle entries are evicted every minute until ctx
// is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	go store.evictEvery(ctx, time.Minute)
	return rateLimit(store)
}

func (s *limiterStore) evictEvery(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.evict()
		}
	}
}

func visitorKey(c echo.Context) string {
	if sub := auth.UserIDFromContext(c.Request().Context()); sub != "" {
		return "user:" + sub
	}
	return "ip:" + c.RealIP()
}

func rateLimit(store *limiterStore) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(store.cfg.RequestsPerSecond, 'f', -1, 64)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := store.get(visitorKey(c))
			c.Response().Header().Set("X-RateLimit-Limit", limit)

			if !lim.Allow() {
				retryAfter := 1
				if store.cfg.RequestsPerSecond > 0 {
					retryAfter = int(1/store.cfg.RequestsPerSecond) + 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return response.Fail(c, http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
