package server

import (
	"context"

	"ragout-bot/internal/bootstrap"
	"ragout-bot/internal/config"
	"ragout-bot/internal/constant"
	"ragout-bot/internal/pkg/serverutils"
	"ragout-bot/internal/transport/telegram"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.Container
}

func New(cfg *config.Config, container *bootstrap.Container) *Server {
	app := fiber.New(fiber.Config{
		// Room for a maximum-size upload plus multipart framing.
		BodyLimit:             telegram.MaxUploadBytes + 1<<20,
		DisableStartupMessage: cfg.IsProduction(),
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.App.CorsAllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	app.Use(otelfiber.Middleware())

	app.Use(serverutils.ErrorHandlerMiddleware(container.Logger))

	registerRoutes(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	s.container.Logger.Info(constant.ModuleHTTP, "Server listening", map[string]interface{}{"port": s.cfg.App.Port})
	return s.app.Listen(":" + s.cfg.App.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func registerRoutes(app *fiber.App, c *bootstrap.Container) {
	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.JSON(serverutils.SuccessResponse("ok", fiber.Map{
			"sessions":     c.Sessions.Count(),
			"vector_store": c.VectorStoreName,
		}))
	})

	api := app.Group("/api")
	c.BotController.RegisterRoutes(api)

	if c.TelegramController != nil {
		c.TelegramController.RegisterRoutes(app)
	}

	c.ChatHandler.RegisterRoutes(app)
}
