// Package streamhost implements maphost.MapHost for native map widgets that
// talk to the service through Redis Streams.
package streamhost

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/maphost"
)

// publishTimeout ограничивает одну публикацию в стрим
const publishTimeout = 5 * time.Second

// Publisher - часть StreamRepository, нужная хосту
type Publisher interface {
	PublishToStream(ctx context.Context, stream string, data interface{}) error
}

// Host - MapHost, который получает viewport из стрима событий и публикует
// маркеры и попапы в стрим обновлений.
type Host struct {
	*maphost.Base

	clientID  string
	stream    string
	publisher Publisher
	logger    *zap.Logger
}

var _ maphost.MapHost = (*Host)(nil)

// NewHost создает Host для клиента clientID, публикующий в domain.StreamMarkerUpdates
func NewHost(clientID string, publisher Publisher, logger *zap.Logger) *Host {
	return &Host{
		Base:      maphost.NewBase(),
		clientID:  clientID,
		stream:    domain.StreamMarkerUpdates,
		publisher: publisher,
		logger:    logger.With(zap.String("client_id", clientID)),
	}
}

// ClientID возвращает идентификатор клиента
func (h *Host) ClientID() string {
	return h.clientID
}

// PlaceMarkers implements maphost.MapHost
func (h *Host) PlaceMarkers(markers []domain.Marker) error {
	if markers == nil {
		markers = []domain.Marker{}
	}
	return h.publish(domain.MarkerUpdateEvent{
		ClientID: h.clientID,
		Type:     domain.MarkerUpdateMarkers,
		Markers:  markers,
	})
}

// ShowPopup implements maphost.MapHost
func (h *Host) ShowPopup(selection *domain.Selection) error {
	return h.publish(domain.MarkerUpdateEvent{
		ClientID:  h.clientID,
		Type:      domain.MarkerUpdatePopup,
		Selection: selection,
	})
}

// SendError публикует ошибку обработки события клиента
func (h *Host) SendError(err error) error {
	return h.publish(domain.MarkerUpdateEvent{
		ClientID: h.clientID,
		Type:     domain.MarkerUpdateError,
		Error:    maphost.EventError(err),
	})
}

func (h *Host) publish(evt domain.MarkerUpdateEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := h.publisher.PublishToStream(ctx, h.stream, evt); err != nil {
		h.logger.Warn("Failed to publish marker update",
			zap.String("type", evt.Type),
			zap.Error(err))
		return fmt.Errorf("failed to publish %s update: %w", evt.Type, err)
	}
	return nil
}
