package maphost

import (
	"errors"

	"github.com/geoview-microservice/internal/domain"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/pkg/geo"
)

// Controller - команды клиента карты, которые выполняет сессия
type Controller interface {
	SetFilters(filters domain.RecordFilters)
	SelectRecord(recordID int64) error
	SelectAt(point domain.ScreenPoint) error
	ClosePopup() error
}

// ViewportEmitter принимает проверенные изменения видимой области
type ViewportEmitter interface {
	EmitViewport(v domain.Viewport)
}

// Dispatch применяет входящее событие клиента: изменения viewport уходят в
// хост, остальные команды в сессию. attach и detach обрабатывает вызывающий.
func Dispatch(host ViewportEmitter, ctrl Controller, evt domain.ViewportEvent) error {
	switch evt.Type {
	case domain.ViewportEventViewport:
		v, ok := evt.Viewport()
		if !ok {
			return apperrors.ErrInvalidViewport.WithDetails(map[string]interface{}{
				"reason": "bounds or region is required",
			})
		}
		// remote input is checked here so the tracker only ever sees valid viewports
		if err := geo.ValidateBounds(v.Bounds); err != nil {
			return apperrors.ErrInvalidViewport.WithDetails(map[string]interface{}{
				"reason": err.Error(),
			})
		}
		host.EmitViewport(v)
		return nil

	case domain.ViewportEventFilters:
		var filters domain.RecordFilters
		if evt.Filters != nil {
			filters = *evt.Filters
		}
		ctrl.SetFilters(filters)
		return nil

	case domain.ViewportEventSelect:
		if evt.RecordID == nil {
			return apperrors.ErrInvalidRequest.WithDetails(map[string]interface{}{
				"field": "record_id",
			})
		}
		return ctrl.SelectRecord(*evt.RecordID)

	case domain.ViewportEventTap:
		if evt.Point == nil {
			return apperrors.ErrInvalidRequest.WithDetails(map[string]interface{}{
				"field": "point",
			})
		}
		return ctrl.SelectAt(*evt.Point)

	case domain.ViewportEventClosePopup:
		return ctrl.ClosePopup()

	case domain.ViewportEventAttach, domain.ViewportEventDetach:
		return nil

	default:
		return apperrors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"type": evt.Type,
		})
	}
}

// EventError переводит ошибку в формат, отправляемый клиенту
func EventError(err error) *domain.EventError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return &domain.EventError{Code: appErr.Code, Message: appErr.Message}
	}
	return &domain.EventError{
		Code:    apperrors.ErrInternalServer.Code,
		Message: apperrors.ErrInternalServer.Message,
	}
}
