package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/domain/repository"
)

const recordColumns = `
	id, full_name, category, currency, balance::float8 AS balance,
	CASE WHEN lat IS NULL OR lng IS NULL THEN NULL
	     ELSE concat(lat, ',', lng)
	END AS coordinates`

type recordRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRecordRepository создает репозиторий записей (таблица customers)
func NewRecordRepository(db *DB, logger *zap.Logger) repository.RecordRepository {
	return &recordRepository{
		db:     db,
		logger: logger,
	}
}

// ListWithinPolygon возвращает страницу записей и общее число совпадений
func (r *recordRepository) ListWithinPolygon(ctx context.Context, query domain.RecordListQuery) ([]domain.GeoRecord, int, error) {
	where, args := buildRecordFilter(query)

	var total int
	countQuery := "SELECT COUNT(*) FROM customers" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		r.logger.Error("failed to count records", zap.Error(err))
		return nil, 0, fmt.Errorf("count records: %w", err)
	}
	if total == 0 {
		return []domain.GeoRecord{}, 0, nil
	}

	n := len(args)
	listQuery := fmt.Sprintf("SELECT %s FROM customers%s ORDER BY full_name, id LIMIT $%d OFFSET $%d",
		recordColumns, where, n+1, n+2)
	args = append(args, query.PerPage, query.Offset())

	records := make([]domain.GeoRecord, 0, query.PerPage)
	if err := r.db.SelectContext(ctx, &records, listQuery, args...); err != nil {
		r.logger.Error("failed to list records",
			zap.String("polygon", query.PolygonWKT),
			zap.Error(err))
		return nil, 0, fmt.Errorf("list records: %w", err)
	}

	return records, total, nil
}

// GetByID возвращает запись или nil, если её нет
func (r *recordRepository) GetByID(ctx context.Context, id int64) (*domain.GeoRecord, error) {
	var record domain.GeoRecord
	err := r.db.GetContext(ctx, &record, "SELECT "+recordColumns+" FROM customers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to get record", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return &record, nil
}

// buildRecordFilter собирает WHERE и аргументы ($1..$n) для запроса списка
func buildRecordFilter(query domain.RecordListQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}

	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.PolygonWKT != "" {
		conds = append(conds, fmt.Sprintf(
			"lat IS NOT NULL AND lng IS NOT NULL AND ST_Within(ST_SetSRID(ST_MakePoint(lng, lat), 4326), ST_GeomFromText(%s, 4326))",
			next(query.PolygonWKT)))
	}
	if query.Search != "" {
		conds = append(conds, "full_name ILIKE "+next("%"+escapeLike(query.Search)+"%"))
	}
	if len(query.Categories) > 0 {
		conds = append(conds, "category = ANY("+next(pq.Array(query.Categories))+")")
	}
	if query.Currency != "" {
		conds = append(conds, "currency = "+next(query.Currency))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
