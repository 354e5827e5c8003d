package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// KeyFunc derives the limiter key of a request.
type KeyFunc func(c echo.Context) string

// KeyByIP keys on the client address.
func KeyByIP(c echo.Context) string { return "ip:" + c.RealIP() }

// KeyByIPAndAgent keys on the client address and user agent, so clients
// behind one NAT are told apart.
func KeyByIPAndAgent(c echo.Context) string {
	return "ip:" + c.RealIP() + ":" + c.Request().UserAgent()
}

// -- in-process token buckets --

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in memory.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func NewLocalLimiter(cfg RateLimitConfig) *LocalLimiter {
	return &LocalLimiter{
		entries: make(map[string]*localEntry),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.BurstSize,
		now:     time.Now,
	}
}

// NewLocalLimiterPerMinute allows n requests per minute with a burst of n.
func NewLocalLimiterPerMinute(n int) *LocalLimiter {
	l := NewLocalLimiter(RateLimitConfig{BurstSize: n})
	l.limit = rate.Every(time.Minute / time.Duration(n))
	return l
}

func (l *LocalLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	lim := l.get(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, Limit: l.burst, RetryAfter: time.Second}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, Limit: l.burst, RetryAfter: delay}, nil
	}
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: l.burst, Remaining: remaining}, nil
}

// StartCleanup drops buckets idle for longer than idle, every interval, until
// ctx is done.
func (l *LocalLimiter) StartCleanup(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep(l.now().Add(-idle))
			}
		}
	}()
}

func (l *LocalLimiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// -- redis fixed window --

// RedisWindowLimiter counts requests per key in a fixed window shared by all
// replicas.
type RedisWindowLimiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  int
	window time.Duration
}

func NewRedisWindowLimiter(rdb redis.Cmdable, prefix string, limit int, window time.Duration) *RedisWindowLimiter {
	return &RedisWindowLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (l *RedisWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + ":" + key

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Limit: l.limit}, fmt.Errorf("rate limit counter: %w", err)
	}
	if ttl.Val() <= 0 {
		// First hit of the window, or a key left without expiry.
		if err := l.rdb.PExpire(ctx, k, l.window).Err(); err != nil {
			return Decision{Allowed: true, Limit: l.limit}, fmt.Errorf("rate limit expiry: %w", err)
		}
	}

	count := int(incr.Val())
	retry := ttl.Val()
	if retry <= 0 {
		retry = l.window
	}
	if count > l.limit {
		return Decision{Allowed: false, Limit: l.limit, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - count, RetryAfter: retry}, nil
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors fail open and are logged.
func RateLimit(limiter Limiter, key KeyFunc, logger zerolog.Logger) echo.MiddlewareFunc {
	if key == nil {
		key = KeyByIP
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d, err := limiter.Allow(c.Request().Context(), key(c))
			if err != nil {
				logger.Warn().Err(err).Str("path", c.Request().URL.Path).Msg("rate limiter unavailable, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			if !d.Allowed {
				retry := int(d.RetryAfter.Round(time.Second).Seconds())
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			return next(c)
		}
	}
}
