package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterMetricsRoute serves reg in the Prometheus exposition format. A nil
// registry serves the default gatherer.
func RegisterMetricsRoute(app *fiber.App, reg *prometheus.Registry) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		gatherer = reg
	}
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
