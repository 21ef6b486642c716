package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/dubflow/api/pkg/response"
)

const (
	ownerIDKey   = "ownerId"
	userIDHeader = "X-User-Id"
	userIDField  = "userId"
)

// GatewayAuthMiddleware reads the numeric owner id from the X-User-Id header
// set by the API gateway. When required is false, as in direct mode, the
// id may also come from the userId query or form field and defaults to 0.
func GatewayAuthMiddleware(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(userIDHeader)
		if raw == "" && !required {
			raw = c.Query(userIDField, c.FormValue(userIDField))
		}
		if raw == "" {
			if required {
				return response.Unauthorized(c, "Missing user identity headers")
			}
			c.Locals(ownerIDKey, int64(0))
			return c.Next()
		}

		ownerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ownerID < 0 {
			return response.ValidationError(c, "User id must be a non-negative integer", nil)
		}
		c.Locals(ownerIDKey, ownerID)
		return c.Next()
	}
}

// GetOwnerID returns the owner id set by GatewayAuthMiddleware.
func GetOwnerID(c *fiber.Ctx) int64 {
	if id, ok := c.Locals(ownerIDKey).(int64); ok {
		return id
	}
	return 0
}
