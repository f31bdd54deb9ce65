package ledger

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Resolver returns the gateway bound to a wallet address taken from the route.
type Resolver func(ctx context.Context, wallet string) (*Gateway, error)

// Handler exposes HTTP endpoints for the wallet ledger.
type Handler struct {
	resolve Resolver
}

// NewHandler constructs a ledger handler.
func NewHandler(resolve Resolver) *Handler {
	return &Handler{resolve: resolve}
}

// Get returns the current ledger balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	g, err := h.resolve(c.UserContext(), c.Params("wallet"))
	if err != nil {
		return err
	}
	bal, err := g.Query(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toBalanceResponse(g.Wallet(), bal))
}

// Create opens a ledger and returns the reconciled balance.
func (h *Handler) Create(c *fiber.Ctx) error {
	return h.mutate(c, http.StatusCreated, (*Gateway).Create)
}

// Deposit adds funds and returns the reconciled balance.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.mutate(c, http.StatusOK, (*Gateway).Deposit)
}

// Withdraw refunds funds and returns the reconciled balance.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.mutate(c, http.StatusOK, (*Gateway).Withdraw)
}

// Delete removes the ledger, reporting any forfeited available balance.
func (h *Handler) Delete(c *fiber.Ctx) error {
	g, err := h.resolve(c.UserContext(), c.Params("wallet"))
	if err != nil {
		return err
	}
	result, err := g.Delete(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(DeleteResponse{
		Deleted:      true,
		Forfeited:    formatOrZero(result.Forfeited),
		ForfeitedWei: weiString(result.Forfeited),
		Warning:      result.Warning,
	})
}

func (h *Handler) mutate(c *fiber.Ctx, status int, fn func(*Gateway, context.Context, string) error) error {
	var req AmountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	g, err := h.resolve(c.UserContext(), c.Params("wallet"))
	if err != nil {
		return err
	}
	if err := fn(g, c.UserContext(), req.Amount); err != nil {
		return err
	}
	bal, err := g.Reconcile(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(status).JSON(toBalanceResponse(g.Wallet(), bal))
}
