package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// HealthDeps lists the backing stores checked by /readyz. A nil store is
// reported as disabled and does not fail readiness.
type HealthDeps struct {
	DB      *sql.DB
	Redis   *redis.Client
	Session interface{ IsAuthReady() bool }
	Metrics http.Handler
}

func RegisterHealthRoutes(app fiber.Router, deps HealthDeps) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deps HealthDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		ready := true
		check := func(enabled bool, ping func() error) string {
			if !enabled {
				return "disabled"
			}
			if err := ping(); err != nil {
				ready = false
				return "down"
			}
			return "ok"
		}

		pgStatus := check(deps.DB != nil, func() error { return deps.DB.PingContext(ctx) })
		redisStatus := check(deps.Redis != nil, func() error { return deps.Redis.Ping(ctx).Err() })

		// The session is informational; an anonymous engine is still ready.
		sessionStatus := "unknown"
		if deps.Session != nil {
			sessionStatus = "unauthenticated"
			if deps.Session.IsAuthReady() {
				sessionStatus = "ready"
			}
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"postgres": pgStatus,
				"redis":    redisStatus,
				"session":  sessionStatus,
			},
		})
	}
}
