package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

// APIKey guards routes with a shared key whose bcrypt hash is configured.
// Keys may also be sent as a bearer token. An empty hash disables the check.
func APIKey(hash string) fiber.Handler {
	if hash == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	// bcrypt is deliberately slow; accepted keys are remembered by digest
	var accepted sync.Map

	return func(c *fiber.Ctx) error {
		key := c.Get(apiKeyHeader)
		if key == "" {
			authz := c.Get(fiber.HeaderAuthorization)
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				key = strings.TrimSpace(authz[len("Bearer "):])
			}
		}
		if key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing api key")
		}

		digest := sha256.Sum256([]byte(key))
		if _, ok := accepted.Load(digest); ok {
			return c.Next()
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid api key")
		}
		accepted.Store(digest, struct{}{})
		return c.Next()
	}
}
