package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/inferpay/inferpay/internal/address"
	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/registry"
)

// DefaultStreamTimeout bounds a streamed chat reply.
const DefaultStreamTimeout = 5 * time.Minute

// Handler exposes the session operations over HTTP.
type Handler struct {
	dir           *Directory
	streamTimeout time.Duration
	logger        *slog.Logger
}

// NewHandler constructs a session handler.
func NewHandler(dir *Directory, streamTimeout time.Duration, logger *slog.Logger) *Handler {
	if streamTimeout <= 0 {
		streamTimeout = DefaultStreamTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dir: dir, streamTimeout: streamTimeout, logger: logger}
}

// Services lists valid providers. ?cached=1 serves the cached set.
func (h *Handler) Services(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var services []registry.ProviderService
	if c.QueryBool("cached") {
		services, err = s.Registry.Cached(c.UserContext())
	} else {
		services, err = s.Registry.Discover(c.UserContext())
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ServicesResponse{Services: services, Selected: s.Registry.Selected()})
}

// Select changes the selected provider.
func (h *Handler) Select(c *fiber.Ctx) error {
	var req ProviderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	s, err := h.session(c)
	if err != nil {
		return err
	}
	provider, err := address.Normalize(req.Provider)
	if err != nil {
		return err
	}
	svc, err := s.Registry.Select(c.UserContext(), provider)
	if errors.Is(err, registry.ErrNotDiscovered) {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(svc)
}

// Inspect returns provider details with the acknowledgment state.
func (h *Handler) Inspect(c *fiber.Ctx) error {
	s, provider, err := h.sessionAndProvider(c)
	if err != nil {
		return err
	}
	st, err := s.Gate.Inspect(c.UserContext(), provider)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(st)
}

// Acknowledge submits the provider acknowledgment.
func (h *Handler) Acknowledge(c *fiber.Ctx) error {
	s, provider, err := h.sessionAndProvider(c)
	if err != nil {
		return err
	}
	if err := s.Gate.Acknowledge(c.UserContext(), provider); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"provider": provider, "acknowledged": true})
}

// SubAccount returns the provider sub-account without funding it.
func (h *Handler) SubAccount(c *fiber.Ctx) error {
	s, provider, err := h.sessionAndProvider(c)
	if err != nil {
		return err
	}
	sub, err := s.SubAccounts.Get(c.UserContext(), provider)
	if errors.Is(err, broker.ErrNotFound) {
		return fiber.NewError(http.StatusNotFound, "no sub-account for provider yet")
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toSubAccountResponse(sub))
}

// Fund creates or tops up the provider sub-account as needed.
func (h *Handler) Fund(c *fiber.Ctx) error {
	s, provider, err := h.sessionAndProvider(c)
	if err != nil {
		return err
	}
	sub, err := s.SubAccounts.EnsureFunded(c.UserContext(), provider)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toSubAccountResponse(sub))
}

// Chat streams the reply to a user turn as server-sent events: one "delta"
// event per text fragment, then "done" or "error". Failures before the
// stream opens are returned as plain JSON errors.
func (h *Handler) Chat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	s, err := h.session(c)
	if err != nil {
		return err
	}
	provider, err := h.providerOrSelected(s, req.Provider)
	if err != nil {
		return err
	}

	// The stream outlives the handler, so it cannot use the request context.
	ctx, cancel := context.WithTimeout(context.Background(), h.streamTimeout)
	ex, err := s.Begin(ctx, provider, req.Message)
	if err != nil {
		cancel()
		if errors.Is(err, ErrEmptyPrompt) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With(slog.String("wallet", s.Wallet), slog.String("provider", provider))
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer ex.Close()
		for {
			chunk, err := ex.Next()
			if errors.Is(err, io.EOF) {
				msg, _ := ex.Message()
				writeEvent(w, "done", doneEvent{Index: ex.Index(), Content: msg.Content, ResponseID: ex.ResponseID()})
				_ = w.Flush()
				return
			}
			if err != nil {
				logger.Warn("chat stream failed", slog.Any("error", err))
				writeEvent(w, "error", errorEvent(err))
				_ = w.Flush()
				return
			}
			writeEvent(w, "delta", deltaEvent{Delta: chunk.Delta, ResponseID: chunk.ID})
			if err := w.Flush(); err != nil {
				logger.Info("chat client went away", slog.Any("error", err))
				return
			}
		}
	})
	return nil
}

// Transcript returns the session transcript.
func (h *Handler) Transcript(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(TranscriptResponse{Wallet: s.Wallet, Messages: s.Transcript().Messages()})
}

// Verify checks a transcript message against its provider.
func (h *Handler) Verify(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "index must be an integer")
	}
	var req ProviderRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	s, err := h.session(c)
	if err != nil {
		return err
	}
	provider, err := h.providerOrSelected(s, req.Provider)
	if err != nil {
		return err
	}

	verdict, err := s.Verify(c.UserContext(), provider, index)
	switch {
	case errors.Is(err, ErrNoSuchMessage):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotVerifiable):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return err
	}

	resp := VerifyResponse{Index: index, Verdict: verdict.String()}
	if msg, ok := s.Transcript().Get(index); ok {
		resp.Message = &msg
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// Complete runs a one-shot prompt and returns the whole reply.
func (h *Handler) Complete(c *fiber.Ctx) error {
	var req CompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	s, err := h.session(c)
	if err != nil {
		return err
	}
	provider, err := h.providerOrSelected(s, req.Provider)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.streamTimeout)
	defer cancel()
	content, err := s.Complete(ctx, provider, req.Prompt)
	if errors.Is(err, ErrEmptyPrompt) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(CompleteResponse{Provider: provider, Content: content})
}

func (h *Handler) session(c *fiber.Ctx) (*Session, error) {
	return h.dir.Get(c.UserContext(), c.Params("wallet"))
}

func (h *Handler) sessionAndProvider(c *fiber.Ctx) (*Session, string, error) {
	s, err := h.session(c)
	if err != nil {
		return nil, "", err
	}
	provider, err := address.Normalize(c.Params("provider"))
	if err != nil {
		return nil, "", err
	}
	return s, provider, nil
}

func (h *Handler) providerOrSelected(s *Session, provider string) (string, error) {
	if provider == "" {
		provider = s.Registry.Selected()
	}
	if provider == "" {
		return "", fiber.NewError(http.StatusBadRequest, "no provider given and none selected; list services first")
	}
	return address.Normalize(provider)
}

func errorEvent(err error) fiber.Map {
	return fiber.Map{
		"error":  err.Error(),
		"kind":   string(errs.KindOf(err)),
		"remedy": errs.RemedyOf(err),
	}
}

func writeEvent(w *bufio.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
