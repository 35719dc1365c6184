package repository

import (
	"context"

	"github.com/geoview-microservice/internal/domain"
)

// RecordSource отдаёт страницу записей для видимой области (клиентская сторона: REST endpoint списка)
type RecordSource interface {
	FetchRecords(ctx context.Context, query domain.RegionQuery) (*domain.RecordPage, error)
}

// RecordRepository определяет методы для работы с записями в PostGIS
type RecordRepository interface {
	// ListWithinPolygon возвращает страницу записей внутри полигона (или все, если полигон пуст)
	ListWithinPolygon(ctx context.Context, query domain.RecordListQuery) ([]domain.GeoRecord, int, error)

	// GetByID получает запись по ID
	GetByID(ctx context.Context, id int64) (*domain.GeoRecord, error)
}
