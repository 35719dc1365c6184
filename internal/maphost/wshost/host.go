// Package wshost implements maphost.MapHost over a WebSocket connection for
// web map widgets.
package wshost

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/maphost"
)

// PingInterval - период keep-alive пингов
const PingInterval = 30 * time.Second

// ErrClosed - соединение уже отдано обратно, запись невозможна
var ErrClosed = errors.New("websocket host is closed")

// Writer - часть *websocket.Conn, которая нужна хосту для отправки сообщений
type Writer interface {
	WriteMessage(messageType int, data []byte) error
}

// Host - MapHost поверх WebSocket соединения. Все записи в соединение
// сериализуются мьютексом.
type Host struct {
	*maphost.Base

	clientID string
	conn     Writer
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ maphost.MapHost = (*Host)(nil)

// NewHost создает Host для соединения clientID
func NewHost(clientID string, conn Writer, logger *zap.Logger) *Host {
	return &Host{
		Base:     maphost.NewBase(),
		clientID: clientID,
		conn:     conn,
		logger:   logger.With(zap.String("client_id", clientID)),
	}
}

// PlaceMarkers implements maphost.MapHost
func (h *Host) PlaceMarkers(markers []domain.Marker) error {
	if markers == nil {
		markers = []domain.Marker{}
	}
	return h.send(domain.MarkerUpdateEvent{
		ClientID: h.clientID,
		Type:     domain.MarkerUpdateMarkers,
		Markers:  markers,
	})
}

// ShowPopup implements maphost.MapHost
func (h *Host) ShowPopup(selection *domain.Selection) error {
	return h.send(domain.MarkerUpdateEvent{
		ClientID:  h.clientID,
		Type:      domain.MarkerUpdatePopup,
		Selection: selection,
	})
}

// SendError отправляет клиенту ошибку обработки его сообщения
func (h *Host) SendError(err error) error {
	return h.send(domain.MarkerUpdateEvent{
		ClientID: h.clientID,
		Type:     domain.MarkerUpdateError,
		Error:    maphost.EventError(err),
	})
}

// Ping отправляет keep-alive пинг
func (h *Host) Ping() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close запрещает дальнейшие записи. Дожидается записи, которая уже идет.
// Вызывается до того, как соединение вернется в пул gofiber/websocket.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// KeepAlive пингует клиента каждые interval, пока не закрыт done или
// запись не завершилась ошибкой
func (h *Host) KeepAlive(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.Ping(); err != nil {
				h.logger.Debug("Ping failed, stopping keep-alive", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Host) send(evt domain.MarkerUpdateEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", evt.Type, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn("Failed to write to websocket", zap.String("type", evt.Type), zap.Error(err))
		return fmt.Errorf("failed to write %s message: %w", evt.Type, err)
	}
	return nil
}
