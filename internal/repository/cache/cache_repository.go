package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/domain/repository"
)

type cacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository создает кеш поверх Redis
func NewCacheRepository(redis *Redis) repository.CacheRepository {
	return &cacheRepository{
		client: redis.Client(),
		logger: redis.logger,
	}
}

func (r *cacheRepository) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // промах
	}
	if err != nil {
		r.logger.Error("Failed to get from cache", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("cache get error: %w", err)
	}

	r.logger.Debug("Cache hit", zap.String("key", key))
	return val, nil
}

func (r *cacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Error("Failed to set cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set error: %w", err)
	}

	r.logger.Debug("Cache set", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (r *cacheRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Error("Failed to delete from cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// GetRecordPage читает закешированную страницу записей
func (r *cacheRepository) GetRecordPage(ctx context.Context, key string) (*domain.RecordPage, error) {
	data, err := r.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}

	var page domain.RecordPage
	if err := json.Unmarshal(data, &page); err != nil {
		// битую запись удаляем, чтобы следующий запрос ушёл в базу
		r.logger.Warn("Dropping corrupted records page", zap.String("key", key), zap.Error(err))
		_ = r.Delete(ctx, key)
		return nil, nil
	}

	return &page, nil
}

// SetRecordPage сохраняет страницу записей
func (r *cacheRepository) SetRecordPage(ctx context.Context, key string, page *domain.RecordPage, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		r.logger.Error("Failed to marshal records page", zap.Error(err))
		return fmt.Errorf("marshal records page: %w", err)
	}
	return r.Set(ctx, key, data, ttl)
}
