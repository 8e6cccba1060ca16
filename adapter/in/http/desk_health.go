package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	pool      *pgxpool.Pool
	redis     *redis.Client
	mongo     *mongo.Client
	startedAt time.Time
}

func NewHealthHandler(pool *pgxpool.Pool, redisClient *redis.Client, mongoClient *mongo.Client) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		redis:     redisClient,
		mongo:     mongoClient,
		startedAt: time.Now(),
	}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

// Health reports process liveness only.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Ready checks every backing store with a short deadline. Optional stores
// that were never configured report as skipped rather than failing.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := fiber.Map{}
	healthy := true

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			checks["postgres"] = "down: " + err.Error()
			healthy = false
		} else {
			checks["postgres"] = "up"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down: " + err.Error()
			healthy = false
		} else {
			checks["redis"] = "up"
		}
	}

	if h.mongo != nil {
		if err := h.mongo.Ping(ctx, nil); err != nil {
			checks["mongodb"] = "down: " + err.Error()
			healthy = false
		} else {
			checks["mongodb"] = "up"
		}
	} else {
		checks["mongodb"] = "skipped"
	}

	status := fiber.StatusOK
	state := "ready"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": checks,
	})
}
