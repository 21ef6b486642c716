package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dubflow/api/internal/metrics"
)

// Metrics counts handled requests by route pattern and status class.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		metrics.RecordHTTPRequest(c.Method(), c.Route().Path, status)
		return err
	}
}
