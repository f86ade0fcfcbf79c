package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sahl-financial/sahl_api/internal/client"
)

const (
	clientIDHeader     = "X-Client-ID"
	clientSecretHeader = "X-Client-Secret"
	// ClientIDLocal holds the authenticated client id.
	ClientIDLocal = "client_id"
)

// ClientAuthenticator verifies API client credentials.
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, creds client.Credentials) (client.Client, error)
}

// ClientAuth rejects requests without a valid X-Client-ID/X-Client-Secret pair.
func ClientAuth(auth ClientAuthenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		creds := client.Credentials{
			ID:     c.Get(clientIDHeader),
			Secret: c.Get(clientSecretHeader),
		}
		if creds.ID == "" || creds.Secret == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing client credentials")
		}
		authed, err := auth.Authenticate(c.UserContext(), creds)
		if err != nil {
			if errors.Is(err, client.ErrUnauthorized) {
				return fiber.NewError(http.StatusUnauthorized, "invalid client credentials")
			}
			return fiber.NewError(http.StatusInternalServerError, "client lookup failed")
		}
		c.Locals(ClientIDLocal, authed.ID)
		return c.Next()
	}
}
