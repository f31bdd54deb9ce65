package journal

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/inferpay/inferpay/internal/address"
)

const defaultListLimit = 50

// Handler exposes the journal over HTTP.
type Handler struct {
	journal Journal
}

// NewHandler constructs a journal handler.
func NewHandler(j Journal) *Handler {
	return &Handler{journal: j}
}

// List returns the newest entries of a wallet. ?limit= caps the count.
func (h *Handler) List(c *fiber.Ctx) error {
	wallet, err := address.Normalize(c.Params("wallet"))
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > 500 {
		return fiber.NewError(http.StatusBadRequest, "limit must be between 1 and 500")
	}
	entries, err := h.journal.List(c.UserContext(), wallet, limit)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallet": wallet, "entries": entries})
}
