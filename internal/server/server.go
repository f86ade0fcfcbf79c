package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sahl-financial/sahl_api/internal/config"
	"github.com/sahl-financial/sahl_api/internal/routes"
)

// Server wraps the Fiber application.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// The write timeout covers a full login step, which types slowly.
func New(cfg config.Config, deps routes.Deps) (*Server, error) {
	writeTimeout := cfg.Scrape.LockWait + cfg.Scrape.PageTimeout + cfg.Scrape.BalanceTimeout + time.Minute
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		ErrorHandler: errorHandler,
	})

	deps.Cfg = cfg
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// App exposes the underlying Fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders middleware and routing errors in the same envelope as
// scrape failures.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{"kind": kindFor(code), "message": message},
	})
}

func kindFor(code int) string {
	switch code {
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	default:
		if code >= fiber.StatusInternalServerError {
			return "INTERNAL"
		}
		return "HTTP_ERROR"
	}
}
