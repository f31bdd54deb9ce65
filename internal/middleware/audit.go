package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/inferpay/inferpay/internal/address"
)

// Audit logs one line per request. The wallet route parameter, when present,
// is logged in its shortened form.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if wallet := c.Params("wallet"); wallet != "" {
			attrs = append(attrs, slog.String("wallet", address.Short(wallet)))
		}
		if err != nil {
			// the status is only final once the error handler has run
			attrs = append(attrs, slog.Any("error", err))
			logger.Warn("request failed", attrs...)
			return err
		}
		logger.Info("request completed", attrs...)
		return nil
	}
}
