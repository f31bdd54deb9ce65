package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const rateLimitPrefix = "rl:chat:"

// ChatRateLimit caps chat requests per wallet and minute. With Redis the
// window is shared across replicas; without it, or when Redis fails, each
// process falls back to a token bucket per wallet.
func ChatRateLimit(cache *redis.Client, perMinute int, logger *slog.Logger) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 30
	}
	local := newLocalLimiter(perMinute)

	return func(c *fiber.Ctx) error {
		wallet := strings.ToLower(c.Params("wallet"))
		if wallet == "" {
			wallet = c.IP()
		}

		if cache != nil {
			count, err := windowCount(c.UserContext(), cache, rateLimitPrefix+wallet)
			if err == nil {
				if count > int64(perMinute) {
					return tooManyRequests()
				}
				return c.Next()
			}
			logger.Warn("rate limit store unavailable, using local limiter", slog.Any("error", err))
		}

		if !local.allow(wallet) {
			return tooManyRequests()
		}
		return c.Next()
	}
}

// windowCount increments the wallet's counter for the current minute. A
// counter without an expiry would block the wallet for good, so one is set
// whenever it is missing.
func windowCount(ctx context.Context, cache *redis.Client, key string) (int64, error) {
	count, err := cache.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		return count, cache.Expire(ctx, key, time.Minute).Err()
	}
	ttl, err := cache.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		if err := cache.Expire(ctx, key, time.Minute).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

func tooManyRequests() error {
	return fiber.NewError(http.StatusTooManyRequests, "too many chat requests, try again later")
}

type localLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	byKey   map[string]*limiterEntry
	hits    uint64
	idleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLocalLimiter(perMinute int) *localLimiter {
	return &localLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		byKey:   make(map[string]*limiterEntry),
		idleTTL: 10 * time.Minute,
	}
}

// allow consumes a token for key. Idle keys are swept every 512 calls.
func (l *localLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}
