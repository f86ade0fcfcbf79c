package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sahl-financial/sahl_api/internal/middleware"
	"github.com/sahl-financial/sahl_api/internal/scrape"
)

// RegisterScrapeRoutes wires the scrape endpoints behind client authentication.
func RegisterScrapeRoutes(r fiber.Router, d Deps) {
	var attempts scrape.AttemptLister
	if d.Journal != nil {
		attempts = d.Journal
	}
	h := scrape.NewHandler(d.Engine, attempts)

	g := r.Group("/scrape", middleware.ClientAuth(d.Clients))
	submit := []fiber.Handler{middleware.ScrapeRateLimit(d.Cache, d.Cfg.Scrape.RateLimit)}
	if d.Cache != nil {
		submit = append(submit, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	g.Post("", append(submit, h.Scrape)...)
	g.Get("/sessions", h.Sessions)
	g.Delete("/sessions/:identity", h.Release)
	g.Get("/attempts", h.Attempts)
}
