package testhelpers

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain/repository"
	"github.com/geoview-microservice/internal/repository/postgres"
)

// NewRecordRepositoryForTest создает репозиторий записей поверх тестовой базы
func NewRecordRepositoryForTest(db *sqlx.DB, logger *zap.Logger) repository.RecordRepository {
	return postgres.NewRecordRepository(postgres.NewDBForTest(db, logger), logger)
}
