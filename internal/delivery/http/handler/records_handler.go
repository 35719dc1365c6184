package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/pkg/utils"
	"github.com/geoview-microservice/internal/pkg/validator"
	"github.com/geoview-microservice/internal/usecase"
	"github.com/geoview-microservice/internal/usecase/dto"
)

// RecordsHandler - endpoint списка записей, который опрашивают сессии карты
type RecordsHandler struct {
	recordsUC *usecase.RecordsUseCase
	logger    *zap.Logger
}

// NewRecordsHandler создает RecordsHandler
func NewRecordsHandler(recordsUC *usecase.RecordsUseCase, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{
		recordsUC: recordsUC,
		logger:    logger,
	}
}

// List godoc
// @Summary Список записей внутри видимой области
// @Description Возвращает страницу записей, чьи координаты попадают в полигон within_polygon. Без полигона возвращаются все записи, включая записи без координат (coordinates = null).
// @Tags Records
// @Produce json
// @Param within_polygon query string false "WKT POLYGON в порядке lng lat, например POLYGON((-74.02 40.70, -74.02 40.72, -74.00 40.72, -74.00 40.70, -74.02 40.70))"
// @Param full_name query string false "Поиск по имени (ILIKE)"
// @Param search query string false "Синоним full_name"
// @Param category query string false "Категории через запятую"
// @Param currency query string false "Код валюты"
// @Param page query int false "Номер страницы" default(1)
// @Param per_page query int false "Размер страницы (максимум 500)" default(50)
// @Success 200 {object} dto.ListRecordsResponse
// @Failure 400 {object} utils.ErrorResponse
// @Failure 500 {object} utils.ErrorResponse
// @Router /api/v1/customers [get]
func (h *RecordsHandler) List(c *fiber.Ctx) error {
	var req dto.ListRecordsRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, apperrors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"reason": err.Error(),
		}))
	}

	if err := validator.Validate(&req); err != nil {
		return utils.SendError(c, err)
	}

	page, err := h.recordsUC.List(c.UserContext(), req)
	if err != nil {
		return utils.SendError(c, err)
	}

	return utils.SendSuccess(c, page.Data, page.Meta)
}

// Get godoc
// @Summary Запись по ID
// @Tags Records
// @Produce json
// @Param id path int true "ID записи"
// @Success 200 {object} utils.SuccessResponse{data=domain.GeoRecord}
// @Failure 400 {object} utils.ErrorResponse
// @Failure 404 {object} utils.ErrorResponse
// @Router /api/v1/customers/{id} [get]
func (h *RecordsHandler) Get(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.SendError(c, apperrors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"id": c.Params("id"),
		}))
	}

	record, err := h.recordsUC.Get(c.UserContext(), int64(id))
	if err != nil {
		return utils.SendError(c, err)
	}

	return utils.SendSuccess(c, record, nil)
}
