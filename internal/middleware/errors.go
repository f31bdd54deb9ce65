package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/inferpay/inferpay/internal/address"
	"github.com/inferpay/inferpay/internal/errs"
)

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Remedy string `json:"remedy,omitempty"`
}

// ErrorHandler renders handler errors as JSON, mapping typed failures onto
// HTTP statuses and carrying their remediation text.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var (
			fe   *fiber.Error
			body = ErrorResponse{Error: err.Error()}
			code int
		)
		switch {
		case errors.As(err, &fe):
			code = fe.Code
			body.Error = fe.Message
		case errors.Is(err, address.ErrInvalid):
			code = http.StatusBadRequest
		default:
			code = errs.Status(err)
			body.Kind = string(errs.KindOf(err))
			body.Remedy = errs.RemedyOf(err)
		}

		if code >= http.StatusInternalServerError {
			requestID := RequestIDFrom(c)
			logger.Error("request failed",
				slog.String("path", c.Path()),
				slog.Int("status", code),
				slog.String("request_id", requestID),
				slog.Any("error", err),
			)
		}
		return c.Status(code).JSON(body)
	}
}
