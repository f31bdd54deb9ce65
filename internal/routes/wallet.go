package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inferpay/inferpay/internal/journal"
	"github.com/inferpay/inferpay/internal/ledger"
	"github.com/inferpay/inferpay/internal/session"
)

// RegisterLedgerRoutes wires the ledger endpoints. Mutations go through idem.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler, idem fiber.Handler) {
	g := r.Group("/ledger")
	g.Get("/", h.Get)
	g.Post("/", idem, h.Create)
	g.Delete("/", idem, h.Delete)
	g.Post("/deposit", idem, h.Deposit)
	g.Post("/withdraw", idem, h.Withdraw)
}

// RegisterServiceRoutes wires discovery, acknowledgment and sub-account funding.
func RegisterServiceRoutes(r fiber.Router, h *session.Handler, idem fiber.Handler) {
	g := r.Group("/services")
	g.Get("/", h.Services)
	g.Post("/select", h.Select)
	g.Get("/:provider", h.Inspect)
	g.Post("/:provider/acknowledge", h.Acknowledge)
	g.Get("/:provider/subaccount", h.SubAccount)
	g.Post("/:provider/subaccount", idem, h.Fund)
}

// RegisterChatRoutes wires the chat stream, the transcript and one-shot
// completions. Requests that reach a provider are rate limited.
func RegisterChatRoutes(r fiber.Router, h *session.Handler, limit fiber.Handler) {
	r.Post("/chat", limit, h.Chat)
	r.Get("/chat/transcript", h.Transcript)
	r.Post("/chat/messages/:index/verify", h.Verify)
	r.Post("/complete", limit, h.Complete)
}

// RegisterJournalRoutes wires the wallet journal.
func RegisterJournalRoutes(r fiber.Router, h *journal.Handler) {
	r.Get("/journal", h.List)
}
