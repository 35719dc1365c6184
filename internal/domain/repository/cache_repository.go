package repository

import (
	"context"
	"time"

	"github.com/geoview-microservice/internal/domain"
)

// CacheRepository определяет методы для работы с кешем
type CacheRepository interface {
	// Get получает значение из кеша по ключу
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет значение из кеша
	Delete(ctx context.Context, key string) error

	// GetRecordPage получает страницу записей из кеша (nil, nil при промахе)
	GetRecordPage(ctx context.Context, key string) (*domain.RecordPage, error)

	// SetRecordPage сохраняет страницу записей в кеше
	SetRecordPage(ctx context.Context, key string, page *domain.RecordPage, ttl time.Duration) error
}
