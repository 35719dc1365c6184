package viewport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/domain/repository"
	"github.com/geoview-microservice/internal/maphost"
	"github.com/geoview-microservice/internal/maphost/streamhost"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/usecase"
	"github.com/geoview-microservice/internal/worker"
)

const (
	maxBatchSize    = 20                     // максимум сообщений за раз
	emptyQueueSleep = 100 * time.Millisecond // пауза если очередь пуста
	errorSleep      = time.Second            // пауза после ошибки чтения
)

// client - сессия карты нативного клиента и время его последнего события
type client struct {
	host     *streamhost.Host
	session  *usecase.MapSession
	lastSeen time.Time
}

// StreamWorker обслуживает нативные виджеты карты через Redis Streams:
// читает события из domain.StreamViewportEvents, держит по сессии на client_id
// и публикует маркеры в domain.StreamMarkerUpdates.
type StreamWorker struct {
	*worker.BaseWorker
	streamRepo   repository.StreamRepository
	factory      *usecase.SessionFactory
	registry     *usecase.SessionRegistry
	clock        clock.Clock
	consumerName string
	idleTTL      time.Duration
	maxRetries   int

	mu      sync.Mutex
	clients map[string]*client
}

// NewStreamWorker создает StreamWorker
func NewStreamWorker(
	streamRepo repository.StreamRepository,
	factory *usecase.SessionFactory,
	registry *usecase.SessionRegistry,
	clk clock.Clock,
	consumerGroup string,
	idleTTL time.Duration,
	maxRetries int,
	logger *zap.Logger,
) *StreamWorker {
	hostname, _ := os.Hostname()

	return &StreamWorker{
		BaseWorker:   worker.NewBaseWorker("viewport-stream", consumerGroup, logger),
		streamRepo:   streamRepo,
		factory:      factory,
		registry:     registry,
		clock:        clk,
		consumerName: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		idleTTL:      idleTTL,
		maxRetries:   maxRetries,
		clients:      make(map[string]*client),
	}
}

// Start запускает цикл чтения. Возвращает ошибку, если чтение падает
// больше maxRetries раз подряд.
func (w *StreamWorker) Start(ctx context.Context) error {
	logger := w.Logger()
	logger.Info("Starting viewport stream worker",
		zap.String("consumer_group", w.ConsumerGroup()),
		zap.String("consumer_name", w.consumerName),
		zap.Duration("idle_ttl", w.idleTTL))

	if err := w.streamRepo.CreateConsumerGroup(ctx, domain.StreamViewportEvents, w.ConsumerGroup()); err != nil {
		logger.Error("Failed to create consumer group", zap.Error(err))
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	defer w.stopClients()

	failures := 0
	for {
		select {
		case <-w.StopChan():
			logger.Info("Worker stopped")
			return nil
		case <-ctx.Done():
			logger.Info("Context cancelled")
			return ctx.Err()
		default:
		}

		processed, err := w.ProcessBatch(ctx)
		w.EvictIdle()

		pause := time.Duration(0)
		switch {
		case err != nil:
			failures++
			logger.Error("Failed to process batch", zap.Int("failures", failures), zap.Error(err))
			if w.maxRetries > 0 && failures > w.maxRetries {
				return fmt.Errorf("stream read failed %d times in a row: %w", failures, err)
			}
			pause = errorSleep
		case processed == 0:
			failures = 0
			pause = emptyQueueSleep
		default:
			failures = 0
		}

		if pause > 0 {
			w.Sleep(ctx, pause)
		}
	}
}

// ProcessBatch читает и применяет пачку событий. Битые сообщения
// подтверждаются и пропускаются. Возвращает число прочитанных сообщений.
func (w *StreamWorker) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := w.streamRepo.ConsumeBatch(
		ctx,
		domain.StreamViewportEvents,
		w.ConsumerGroup(),
		w.consumerName,
		maxBatchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to consume batch: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)

		evt, err := parseMessage(msg)
		if err != nil {
			w.Logger().Warn("Failed to parse message, skipping",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			w.reject(evt.ClientID, msg.ID, err)
			continue
		}
		w.handle(evt)
	}

	if err := w.streamRepo.AckMessages(ctx, domain.StreamViewportEvents, w.ConsumerGroup(), ids); err != nil {
		// не критично: сообщения будут прочитаны повторно
		w.Logger().Error("Failed to ack messages", zap.Error(err))
	}

	return len(messages), nil
}

// EvictIdle останавливает сессии клиентов, молчавших дольше idleTTL
func (w *StreamWorker) EvictIdle() int {
	if w.idleTTL <= 0 {
		return 0
	}
	now := w.clock.Now()

	w.mu.Lock()
	var idle []string
	for id, c := range w.clients {
		if now.Sub(c.lastSeen) > w.idleTTL {
			idle = append(idle, id)
		}
	}
	w.mu.Unlock()

	for _, id := range idle {
		w.Logger().Info("Evicting idle map session", zap.String("client_id", id))
		w.detach(id)
	}
	return len(idle)
}

// Clients возвращает идентификаторы клиентов с живыми сессиями
func (w *StreamWorker) Clients() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.clients))
	for id := range w.clients {
		ids = append(ids, id)
	}
	return ids
}

func (w *StreamWorker) handle(evt domain.ViewportEvent) {
	if evt.Type == domain.ViewportEventDetach {
		w.detach(evt.ClientID)
		return
	}

	c := w.attach(evt.ClientID)
	if err := maphost.Dispatch(c.host, c.session, evt); err != nil {
		w.Logger().Debug("Rejected client event",
			zap.String("client_id", evt.ClientID),
			zap.String("type", evt.Type),
			zap.Error(err))
		_ = c.host.SendError(err)
	}
}

// reject сообщает клиенту о битом событии, если его client_id удалось разобрать.
// Сессия при этом не создаётся.
func (w *StreamWorker) reject(clientID, messageID string, cause error) {
	if clientID == "" {
		return
	}
	host := streamhost.NewHost(clientID, w.streamRepo, w.Logger())
	_ = host.SendError(apperrors.ErrInvalidRequest.WithDetails(map[string]interface{}{
		"reason":     cause.Error(),
		"message_id": messageID,
	}))
}

// attach возвращает сессию клиента, создавая и запуская её при первом событии
func (w *StreamWorker) attach(clientID string) *client {
	now := w.clock.Now()

	w.mu.Lock()
	if c, ok := w.clients[clientID]; ok {
		c.lastSeen = now
		w.mu.Unlock()
		return c
	}

	host := streamhost.NewHost(clientID, w.streamRepo, w.Logger())
	c := &client{
		host:     host,
		session:  w.factory.New(clientID, host),
		lastSeen: now,
	}
	w.clients[clientID] = c
	w.mu.Unlock()

	w.registry.Add(c.session)
	c.session.Start()
	return c
}

func (w *StreamWorker) detach(clientID string) {
	w.mu.Lock()
	_, ok := w.clients[clientID]
	delete(w.clients, clientID)
	w.mu.Unlock()

	if ok {
		w.registry.Remove(clientID)
	}
}

func (w *StreamWorker) stopClients() {
	w.mu.Lock()
	w.clients = make(map[string]*client)
	w.mu.Unlock()

	w.registry.StopAll()
}

// parseMessage разбирает событие клиента; client_id и type обязательны
func parseMessage(msg domain.StreamMessage) (domain.ViewportEvent, error) {
	var evt domain.ViewportEvent
	if msg.Data == "" {
		return evt, fmt.Errorf("missing 'data' field")
	}
	if err := json.Unmarshal([]byte(msg.Data), &evt); err != nil {
		return evt, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if evt.ClientID == "" {
		return evt, fmt.Errorf("missing client_id")
	}
	if evt.Type == "" {
		return evt, fmt.Errorf("missing type")
	}
	return evt, nil
}
