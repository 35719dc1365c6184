package main

// @title GeoView Microservice API
// @version 1.0.0
// @description Маркеры записей для видимой области карты.
// @description
// @description Основные возможности:
// @description - Список записей внутри WKT полигона (PostGIS) с фильтрами и пагинацией
// @description - WebSocket сессии карты (/ws/map): debounce запросов по видимой области, маркеры и попапы
// @description - Состояние живых сессий карты

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	_ "github.com/geoview-microservice/docs/swagger"
	"github.com/geoview-microservice/internal/config"
	httpDelivery "github.com/geoview-microservice/internal/delivery/http"
	"github.com/geoview-microservice/internal/delivery/http/handler"
	"github.com/geoview-microservice/internal/infrastructure/recordsapi"
	"github.com/geoview-microservice/internal/pkg/logger"
	"github.com/geoview-microservice/internal/repository/cache"
	"github.com/geoview-microservice/internal/repository/postgres"
	"github.com/geoview-microservice/internal/usecase"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. Initialize logger
	log, err := logger.New(cfg.Log.Level, "geoview-api")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting GeoView Microservice")
	log.Info("Configuration loaded",
		zap.String("env", cfg.Server.Env),
		zap.String("server_addr", cfg.GetServerAddr()),
		zap.String("records_source", cfg.Records.BaseURL+cfg.Records.Path),
		zap.Duration("settle_duration", cfg.Viewport.SettleDuration),
	)

	// 3. Connect to PostgreSQL (PostGIS)
	db, err := postgres.New(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	// 4. Connect to Redis
	redisClient, err := cache.NewRedis(&cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// 5. Initialize repositories
	recordRepo := postgres.NewRecordRepository(db, log)
	cacheRepo := cache.NewCacheRepository(redisClient)

	// 6. Initialize use cases
	recordsUC := usecase.NewRecordsUseCase(recordRepo, cacheRepo, log, cfg.Cache.RecordsCacheTTL, cfg.Records.PolygonPageSize)

	// Сессии карты запрашивают записи через REST endpoint (по умолчанию этот же сервис)
	recordSource := recordsapi.NewRecordsClient(&cfg.Records, log)
	sessionFactory := usecase.NewSessionFactory(recordSource, clock.New(), usecase.MapSessionConfigFrom(cfg), log)
	sessions := usecase.NewSessionRegistry("ws", log)

	log.Info("Use cases initialized")

	// 7. Initialize HTTP handlers and server
	server := httpDelivery.NewServer(
		cfg,
		log,
		handler.NewRecordsHandler(recordsUC, log),
		handler.NewSessionHandler(sessions),
		handler.NewMapSocketHandler(sessionFactory, sessions, log),
		map[string]httpDelivery.HealthChecker{
			"postgres": db,
			"redis":    redisClient,
		},
	)

	// 8. Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started successfully",
		zap.String("address", cfg.GetServerAddr()),
		zap.String("env", cfg.Server.Env),
	)

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	// сокеты уже закрыты, останавливаем таймеры и незавершённые запросы сессий
	sessions.StopAll()

	if err := db.Close(); err != nil {
		log.Error("Failed to close PostgreSQL", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		log.Error("Failed to close Redis", zap.Error(err))
	}

	log.Info("Server stopped successfully")
}
