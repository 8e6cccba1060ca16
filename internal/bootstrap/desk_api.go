package bootstrap

import (
	"strings"
	"time"

	deskhttp "helpdesk_worker/adapter/in/http"
	"helpdesk_worker/config"
	"helpdesk_worker/infra/middleware"
	"helpdesk_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "helpdesk-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	// Probes and push webhook are open; Pub/Sub supplies its own auth header.
	deskhttp.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB).Register(app)
	deskhttp.NewWebhookHandler(
		deps.Router,
		deps.Producer,
		deps.Redis,
		time.Duration(cfg.WebhookDedupTTLMin)*time.Minute,
	).Register(app)

	// Scheduled triggers share the cron secret.
	cron := app.Group("/cron", middleware.CronAuth(cfg.CronSecret))
	deskhttp.NewCronHandler(deps.LeaseManager, deps.Router, cfg.SweepBatchSize).Register(cron)

	// Dashboard routes carry operator JWTs, limited per tenant.
	apiLimiter := middleware.NewRateLimiter(300, time.Minute)
	api := app.Group("/api", middleware.JWTAuth(cfg.JWTSecret), apiLimiter.Handler())
	deskhttp.NewDraftHandler(deps.Lifecycle, deps.ChatRepo).Register(api)
	deskhttp.NewKnowledgeHandler(deps.Indexer).Register(api)

	return app, cleanup, nil
}
