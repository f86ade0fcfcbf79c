package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func rateLimitedApp(cache *redis.Client, perMin int) *fiber.App {
	app := fiber.New()
	app.Post("/scrape", ScrapeRateLimit(cache, perMin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func scrapeAs(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/scrape", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func assertLimited(t *testing.T, app *fiber.App) {
	t.Helper()
	for i := 0; i < 2; i++ {
		if status := scrapeAs(t, app, `{"identity":"u1","password":"p"}`); status != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, status)
		}
	}
	if status := scrapeAs(t, app, `{"username":"u1","otp":"1"}`); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 on third attempt, got %d", status)
	}
	if status := scrapeAs(t, app, `{"identity":"u2","password":"p"}`); status != fiber.StatusOK {
		t.Fatalf("other identity must not be limited, got %d", status)
	}
}

func TestScrapeRateLimitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	assertLimited(t, rateLimitedApp(cache, 2))
	if ttl := mr.TTL("rl:scrape:u1"); ttl <= 0 {
		t.Fatalf("expected counter to expire, ttl %v", ttl)
	}
}

func TestScrapeRateLimitInProcess(t *testing.T) {
	assertLimited(t, rateLimitedApp(nil, 2))
}
