package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/config"
	"github.com/geoview-microservice/internal/infrastructure/recordsapi"
	"github.com/geoview-microservice/internal/pkg/logger"
	"github.com/geoview-microservice/internal/repository/cache"
	redisRepo "github.com/geoview-microservice/internal/repository/redis"
	"github.com/geoview-microservice/internal/usecase"
	"github.com/geoview-microservice/internal/worker"
	"github.com/geoview-microservice/internal/worker/viewport"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if !cfg.Worker.Enabled {
		fmt.Println("Worker is disabled in configuration. Set WORKER_ENABLED=true to enable.")
		os.Exit(0)
	}

	// 2. Initialize logger
	log, err := logger.New(cfg.Log.Level, "geoview-worker")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting Viewport Stream Worker")
	log.Info("Configuration loaded",
		zap.String("redis_addr", cfg.GetRedisAddr()),
		zap.String("consumer_group", cfg.Worker.ConsumerGroup),
		zap.Duration("session_idle_ttl", cfg.Worker.SessionIdleTTL),
		zap.Int("max_retries", cfg.Worker.MaxRetries))

	// 3. Connect to Redis Streams
	streamsClient, err := cache.NewRedisStreams(&cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := streamsClient.Close(); err != nil {
			log.Error("Failed to close Redis connection", zap.Error(err))
		}
	}()

	// 4. Initialize repositories and sessions
	streamRepo := redisRepo.NewStreamRepository(streamsClient, log)
	recordSource := recordsapi.NewRecordsClient(&cfg.Records, log)
	sessionFactory := usecase.NewSessionFactory(recordSource, clock.New(), usecase.MapSessionConfigFrom(cfg), log)
	sessions := usecase.NewSessionRegistry("stream", log)

	// 5. Initialize workers
	streamWorker := viewport.NewStreamWorker(
		streamRepo,
		sessionFactory,
		sessions,
		clock.New(),
		cfg.Worker.ConsumerGroup,
		cfg.Worker.SessionIdleTTL,
		cfg.Worker.MaxRetries,
		log,
	)

	workerManager := worker.NewWorkerManager(log)
	workerManager.Register(streamWorker)

	// 6. Start workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := workerManager.Start(ctx); err != nil {
		log.Fatal("Failed to start workers", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("Received shutdown signal")
	case <-workerManager.Done():
		log.Error("All workers exited")
	}

	cancel()

	if err := workerManager.Stop(); err != nil {
		log.Error("Error stopping workers", zap.Error(err))
	}

	log.Info("Worker shutdown complete")
}
