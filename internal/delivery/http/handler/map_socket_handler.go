package handler

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/maphost"
	"github.com/geoview-microservice/internal/maphost/wshost"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/usecase"
)

// MapSocketHandler - WebSocket endpoint для веб-виджетов карты.
// Одно соединение - одна сессия карты.
type MapSocketHandler struct {
	factory  *usecase.SessionFactory
	registry *usecase.SessionRegistry
	logger   *zap.Logger
}

// NewMapSocketHandler создает MapSocketHandler
func NewMapSocketHandler(factory *usecase.SessionFactory, registry *usecase.SessionRegistry, logger *zap.Logger) *MapSocketHandler {
	return &MapSocketHandler{
		factory:  factory,
		registry: registry,
		logger:   logger,
	}
}

// Upgrade пропускает дальше только WebSocket handshake
func (h *MapSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handler возвращает fiber.Handler, обслуживающий соединение
func (h *MapSocketHandler) Handler() fiber.Handler {
	return websocket.New(h.Serve)
}

// Serve обслуживает одно соединение до его закрытия или события detach
func (h *MapSocketHandler) Serve(conn *websocket.Conn) {
	id := usecase.NewSessionID()
	logger := h.logger.With(zap.String("session_id", id))

	host := wshost.NewHost(id, conn, h.logger)
	// после возврата из Serve conn уходит в пул: сначала останавливаем сессию, затем закрываем хост
	defer host.Close()
	session := h.factory.New(id, host)
	h.registry.Add(session)
	defer h.registry.Remove(id)

	done := make(chan struct{})
	defer close(done)
	go host.KeepAlive(wshost.PingInterval, done)

	logger.Info("Map socket connected", zap.String("remote_addr", conn.RemoteAddr().String()))
	session.Start()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Map socket closed unexpectedly", zap.Error(err))
			} else {
				logger.Info("Map socket disconnected")
			}
			return
		}

		var evt domain.ViewportEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			_ = host.SendError(apperrors.ErrInvalidRequest.WithDetails(map[string]interface{}{
				"reason": "malformed JSON message",
			}))
			continue
		}

		if evt.Type == domain.ViewportEventDetach {
			logger.Info("Map socket detached")
			return
		}

		if err := maphost.Dispatch(host, session, evt); err != nil {
			logger.Debug("Rejected client message", zap.String("type", evt.Type), zap.Error(err))
			_ = host.SendError(err)
		}
	}
}
