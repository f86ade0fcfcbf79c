package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	defaultScrapePerMin = 5
	localLimiterCap     = 10000
)

// ScrapeRateLimit caps scrape requests per identity per minute. Redis keeps
// the count when available; otherwise a token bucket per identity is kept in
// process.
func ScrapeRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = defaultScrapePerMin
	}
	local := newLocalLimiter(maxPerMin)
	return func(c *fiber.Ctx) error {
		key := "rl:scrape:" + rateKey(c)
		if cache == nil {
			if !local.allow(key) {
				return tooManyAttempts()
			}
			return c.Next()
		}
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return tooManyAttempts()
		}
		return c.Next()
	}
}

func tooManyAttempts() error {
	return fiber.NewError(http.StatusTooManyRequests, "too many scrape attempts, try again later")
}

// rateKey prefers the identity from the body, then the caller's IP.
func rateKey(c *fiber.Ctx) string {
	var req struct {
		Identity string `json:"identity"`
		Username string `json:"username"`
	}
	_ = c.BodyParser(&req)
	id := strings.TrimSpace(req.Identity)
	if id == "" {
		id = strings.TrimSpace(req.Username)
	}
	if id == "" {
		id = c.IP()
	}
	return id
}

type localLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newLocalLimiter(perMin int) *localLimiter {
	return &localLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMin)),
		burst:    perMin,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= localLimiterCap {
			l.pruneLocked()
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// pruneLocked drops buckets that have refilled completely.
func (l *localLimiter) pruneLocked() {
	for key, lim := range l.limiters {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}
