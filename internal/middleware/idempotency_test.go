package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/inferpay/inferpay/internal/logging"
)

func setupIdempotencyApp(t *testing.T) (*fiber.App, *int) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	calls := 0
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/wallets/:wallet/ledger/deposit", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"call": calls, "wallet": c.Params("wallet")})
	})
	app.Post("/fail", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusBadGateway).SendString("upstream")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, key string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body), resp.Header.Get(idempotencyReplayed)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _ := setupIdempotencyApp(t)
	if status, _, _ := post(t, app, "/wallets/a/ledger/deposit", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	status, first, replayed := post(t, app, "/wallets/a/ledger/deposit", "abc123")
	if status != fiber.StatusOK || replayed != "" {
		t.Fatalf("unexpected first response %d %q", status, replayed)
	}
	status, second, replayed := post(t, app, "/wallets/a/ledger/deposit", "abc123")
	if status != fiber.StatusOK || replayed != "true" {
		t.Fatalf("expected replayed 200, got %d %q", status, replayed)
	}
	if first != second {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if *calls != 1 {
		t.Fatalf("handler ran %d times", *calls)
	}
}

func TestIdempotencyKeyIsScopedToPath(t *testing.T) {
	app, calls := setupIdempotencyApp(t)
	post(t, app, "/wallets/a/ledger/deposit", "same")
	_, body, replayed := post(t, app, "/wallets/b/ledger/deposit", "same")
	if replayed != "" || !strings.Contains(body, `"wallet":"b"`) {
		t.Fatalf("key leaked across paths: %s", body)
	}
	if *calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", *calls)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, calls := setupIdempotencyApp(t)
	post(t, app, "/fail", "retry-me")
	post(t, app, "/fail", "retry-me")
	if *calls != 2 {
		t.Fatalf("expected retry to reach handler, got %d calls", *calls)
	}
}
