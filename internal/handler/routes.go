package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dubflow/api/internal/config"
	"github.com/dubflow/api/internal/middleware"
	ws "github.com/dubflow/api/internal/websocket"
)

// Routes groups everything needed to mount the API.
type Routes struct {
	Translation *TranslationHandler
	Hub         *ws.Hub
	Auth        fiber.Handler
	Limiter     *middleware.RateLimiter
	Limits      config.RateLimitConfig
	TestMode    bool
	// Services reports which external collaborators are configured.
	Services func() fiber.Map
}

// Mount registers every route on app.
func (r *Routes) Mount(app *fiber.App) {
	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{}
		if r.Services != nil {
			services = r.Services()
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"services": services,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api", r.Auth)

	tr := api.Group("/translation")
	tr.Post("/upload", r.Limiter.UploadLimit(r.Limits.UploadPerHour), r.Translation.Upload)
	tr.Get("/status/:jobId", r.Translation.Status)
	tr.Get("/download/:jobId/:fileType", r.Translation.Download)
	tr.Get("/jobs", r.Translation.UserJobs)
	tr.Get("/jobs/:userId", r.Translation.UserJobs)
	tr.Post("/retry/:jobId", r.Limiter.RetryLimit(r.Limits.RetryPerHour), r.Translation.Retry)
	tr.Post("/regenerate-audio/:jobId", r.Limiter.RegenerateLimit(r.Limits.RegeneratePerHour), r.Translation.RegenerateAudio)
	if r.TestMode {
		tr.Post("/test/fail/:jobId", r.Translation.InjectFailure)
	}

	// WebSocket routes
	if r.Hub == nil {
		return
	}
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		r.Hub.HandleConnection(c, jobID)
	}))
}

// ErrorHandler renders unhandled errors in the API error format.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := "SERVICE_ERROR"
	if code == fiber.StatusNotFound {
		errCode = "NOT_FOUND"
	}
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    errCode,
			"message": message,
		},
	})
}
