package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	apihttp "assistant_server/adapter/in/http"
	"assistant_server/config"
	"assistant_server/infra/middleware"
	"assistant_server/pkg/logger"
)

// NewAPI builds the admin API server.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "assistant-api",
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

	// Unauthenticated surface: probes and metrics.
	healthHandler := apihttp.NewHealthHandler(deps.DB, deps.Redis, deps.Mongo)
	healthHandler.Register(app)
	apihttp.RegisterMetrics(app)

	// Operator surface.
	admin := app.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.JWTSecret))
	adminHandler := apihttp.NewAdminHandler(deps.Queue, deps.DLQ, deps.Producer)
	adminHandler.Register(admin)

	logger.Info("API server initialized")
	return app, cleanup, nil
}
