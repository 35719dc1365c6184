package http

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	fiberSwagger "github.com/swaggo/fiber-swagger"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/config"
	"github.com/geoview-microservice/internal/delivery/http/handler"
	"github.com/geoview-microservice/internal/delivery/http/middleware"
	"github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/pkg/metrics"
	"github.com/geoview-microservice/internal/pkg/utils"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker - зависимость, которую проверяет /health (PostgreSQL, Redis)
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server - HTTP сервер на основе Fiber
type Server struct {
	app    *fiber.App
	config *config.Config
	logger *zap.Logger

	// Handlers
	recordsHandler *handler.RecordsHandler
	sessionHandler *handler.SessionHandler
	socketHandler  *handler.MapSocketHandler

	checks map[string]HealthChecker
}

// NewServer - создание нового HTTP сервера
func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	recordsHandler *handler.RecordsHandler,
	sessionHandler *handler.SessionHandler,
	socketHandler *handler.MapSocketHandler,
	checks map[string]HealthChecker,
) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "GeoView Microservice",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: customErrorHandler(logger),
	})

	s := &Server{
		app:            app,
		config:         cfg,
		logger:         logger,
		recordsHandler: recordsHandler,
		sessionHandler: sessionHandler,
		socketHandler:  socketHandler,
		checks:         checks,
	}

	s.setupMiddlewares()
	s.setupRoutes()

	return s
}

// App возвращает fiber.App (тесты через app.Test)
func (s *Server) App() *fiber.App {
	return s.app
}

// setupMiddlewares - настройка middleware
func (s *Server) setupMiddlewares() {
	s.app.Use(middleware.Recovery(s.logger))
	s.app.Use(middleware.Logger(s.logger))
	if s.config.Metrics.Enabled {
		s.app.Use(metrics.Middleware())
	}
	s.app.Use(middleware.CORS(s.config.Server.CORSOrigins))
}

// setupRoutes - настройка маршрутов
func (s *Server) setupRoutes() {
	s.app.Get("/swagger/*", fiberSwagger.WrapHandler)

	if s.config.Metrics.Enabled {
		s.app.Get("/metrics", metrics.Handler())
	}

	// WebSocket не сжимается, поэтому регистрируется до compress
	if s.socketHandler != nil {
		s.app.Get("/ws/map", s.socketHandler.Upgrade, s.socketHandler.Handler())
	}

	api := s.app.Group("/api/v1", compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	api.Get("/health", s.health)

	if s.recordsHandler != nil {
		api.Get("/customers", s.recordsHandler.List)
		api.Get("/customers/:id", s.recordsHandler.Get)
	}

	if s.sessionHandler != nil {
		api.Get("/sessions", s.sessionHandler.List)
		api.Get("/sessions/:id", s.sessionHandler.Get)
	}
}

// health godoc
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /api/v1/health [get]
func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	code := fiber.StatusOK
	deps := make(fiber.Map, len(s.checks))
	for name, check := range s.checks {
		if err := check.Health(ctx); err != nil {
			s.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "down"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	return c.Status(code).JSON(fiber.Map{
		"status":       status,
		"dependencies": deps,
		"time":         time.Now(),
	})
}

// Start - запуск HTTP сервера
func (s *Server) Start() error {
	addr := s.config.GetServerAddr()
	s.logger.Info("Starting HTTP server", zap.String("address", addr))
	return s.app.Listen(addr)
}

// Shutdown - graceful shutdown HTTP сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// customErrorHandler - ошибки, не обработанные хендлерами (404 маршрута, паника, AppError)
func customErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return utils.SendError(c, appErr)
		}

		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if stderrors.As(err, &fe) {
			code = fe.Code
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("HTTP Error",
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err),
			)
			return utils.SendError(c, err)
		}

		return c.Status(code).JSON(utils.ErrorResponse{
			Error: errors.New("HTTP_ERROR", err.Error(), code),
		})
	}
}
