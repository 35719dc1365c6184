package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/domain/repository"
	"github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/pkg/geo"
	"github.com/geoview-microservice/internal/pkg/metrics"
	"github.com/geoview-microservice/internal/usecase/dto"
)

const (
	defaultRecordsPerPage  = 50
	maxRecordsPerPage      = 500
	defaultPolygonPageSize = 10000
	recordsCacheName       = "records"
)

// RecordsUseCase - use case для endpoint списка записей
type RecordsUseCase struct {
	recordRepo repository.RecordRepository
	cacheRepo  repository.CacheRepository
	logger     *zap.Logger
	cacheTTL   time.Duration
	// polygonPageSize - размер страницы для запросов с within_polygon:
	// карта должна получить все записи области одной страницей
	polygonPageSize int
}

// NewRecordsUseCase - создание нового RecordsUseCase
func NewRecordsUseCase(
	recordRepo repository.RecordRepository,
	cacheRepo repository.CacheRepository,
	logger *zap.Logger,
	cacheTTL time.Duration,
	polygonPageSize int,
) *RecordsUseCase {
	if polygonPageSize <= 0 {
		polygonPageSize = defaultPolygonPageSize
	}
	return &RecordsUseCase{
		recordRepo:      recordRepo,
		cacheRepo:       cacheRepo,
		logger:          logger,
		cacheTTL:        cacheTTL,
		polygonPageSize: polygonPageSize,
	}
}

// List возвращает страницу записей внутри полигона с учётом фильтров
func (uc *RecordsUseCase) List(ctx context.Context, req dto.ListRecordsRequest) (*domain.RecordPage, error) {
	query, err := buildListQuery(req, uc.polygonPageSize)
	if err != nil {
		return nil, err
	}

	key := recordsCacheKey(query)

	// Проверка кеша
	if uc.cacheRepo != nil {
		cached, err := uc.cacheRepo.GetRecordPage(ctx, key)
		if err != nil {
			uc.logger.Warn("Failed to read records page from cache", zap.String("key", key), zap.Error(err))
		} else if cached != nil {
			metrics.CacheHits.WithLabelValues(recordsCacheName).Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues(recordsCacheName).Inc()
	}

	records, total, err := uc.recordRepo.ListWithinPolygon(ctx, query)
	if err != nil {
		uc.logger.Error("Failed to list records",
			zap.String("polygon", query.PolygonWKT),
			zap.Error(err))
		return nil, errors.ErrDatabaseError
	}
	if records == nil {
		records = []domain.GeoRecord{}
	}

	page := &domain.RecordPage{
		Data: records,
		Meta: domain.PageMeta{
			Page:       query.Page,
			PerPage:    query.PerPage,
			Total:      total,
			TotalPages: totalPages(total, query.PerPage),
		},
	}

	if uc.cacheRepo != nil {
		if err := uc.cacheRepo.SetRecordPage(ctx, key, page, uc.cacheTTL); err != nil {
			uc.logger.Warn("Failed to cache records page", zap.String("key", key), zap.Error(err))
		}
	}

	return page, nil
}

// Get возвращает одну запись по ID
func (uc *RecordsUseCase) Get(ctx context.Context, id int64) (*domain.GeoRecord, error) {
	record, err := uc.recordRepo.GetByID(ctx, id)
	if err != nil {
		uc.logger.Error("Failed to get record", zap.Int64("id", id), zap.Error(err))
		return nil, errors.ErrDatabaseError
	}
	if record == nil {
		return nil, errors.ErrRecordNotFound
	}
	return record, nil
}

func buildListQuery(req dto.ListRecordsRequest, polygonPageSize int) (domain.RecordListQuery, error) {
	query := domain.RecordListQuery{
		Search:     strings.TrimSpace(req.SearchTerm()),
		Categories: splitList(req.Category),
		Currency:   strings.ToUpper(strings.TrimSpace(req.Currency)),
		Page:       req.Page,
		PerPage:    req.PerPage,
	}

	if query.Page < 1 {
		query.Page = 1
	}
	switch {
	case query.PerPage <= 0:
		query.PerPage = defaultRecordsPerPage
	case query.PerPage > maxRecordsPerPage:
		query.PerPage = maxRecordsPerPage
	}

	if wkt := strings.TrimSpace(req.WithinPolygon); wkt != "" {
		if _, err := geo.ParsePolygon(wkt); err != nil {
			return domain.RecordListQuery{}, errors.ErrInvalidPolygon.WithDetails(map[string]interface{}{
				"within_polygon": wkt,
				"reason":         err.Error(),
			})
		}
		query.PolygonWKT = wkt
		// запрос области карты не пагинируется
		query.PerPage = polygonPageSize
	}

	return query, nil
}

// splitList разбирает "a, b,,a" в отсортированный список без повторов
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}

func recordsCacheKey(query domain.RecordListQuery) string {
	data, _ := json.Marshal(query)
	sum := sha1.Sum(data)
	return "records:" + hex.EncodeToString(sum[:])
}

func totalPages(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
