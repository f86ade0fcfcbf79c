package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit logs one structured line per request. Bodies are never logged: they
// carry bank passwords and one-time codes.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if err != nil && errors.As(err, &fe) {
			status = fe.Code
		}
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if reqID, _ := c.Locals(RequestIDLocal).(string); reqID != "" {
			attrs = append(attrs, slog.String("request_id", reqID))
		}
		if clientID, _ := c.Locals(ClientIDLocal).(string); clientID != "" {
			attrs = append(attrs, slog.String("client_id", clientID))
		}

		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			logger.Error("request completed", attrs...)
		case status >= fiber.StatusBadRequest:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}
