// Package viewport превращает уведомления хоста карты о viewport в ключи
// регионов и передаёт изменившиеся в дебаунсер запросов.
package viewport

import (
	"sync"

	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/pkg/geo"
	"github.com/geoview-microservice/internal/pkg/metrics"
)

// DirtySink получает ключи регионов, отличные от последнего обработанного
type DirtySink interface {
	Dirty(region domain.RegionKey)
}

// Tracker отбрасывает повторные уведомления о viewport по ключу региона
type Tracker struct {
	encoder  *geo.Encoder
	sink     DirtySink
	fallback domain.Viewport
	logger   *zap.Logger

	mu      sync.Mutex
	lastKey domain.RegionKey
	last    domain.Viewport
	started bool
}

// NewTracker создает Tracker. fallback отдаётся из Start, чтобы первая
// загрузка произошла без действий пользователя
func NewTracker(encoder *geo.Encoder, sink DirtySink, fallback domain.Viewport, logger *zap.Logger) *Tracker {
	return &Tracker{
		encoder:  encoder,
		sink:     sink,
		fallback: fallback,
		logger:   logger,
	}
}

// Start срабатывает один раз с fallback viewport, повторные вызовы ничего не делают
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.Observe(t.fallback)
}

// Observe обрабатывает одно уведомление и сообщает, ушло ли оно в sink.
// Повторы того же viewport отбрасываются.
func (t *Tracker) Observe(v domain.Viewport) bool {
	key, err := t.encoder.EncodeViewport(v)
	if err != nil {
		metrics.ViewportEvents.WithLabelValues("invalid").Inc()
		// хост нарушил контракт: в development паника, в production только лог
		t.logger.DPanic("Map host reported invalid viewport",
			zap.Any("viewport", v),
			zap.Error(err))
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = v
	if key == t.lastKey {
		metrics.ViewportEvents.WithLabelValues("duplicate").Inc()
		return false
	}
	t.lastKey = key
	metrics.ViewportEvents.WithLabelValues("dirty").Inc()

	t.logger.Debug("Viewport dirty", zap.String("region", string(key)))
	t.sink.Dirty(key)
	return true
}

// LastKey возвращает последний ключ, переданный в sink
func (t *Tracker) LastKey() domain.RegionKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastKey
}

// Viewport возвращает последний валидный viewport, включая повторы
func (t *Tracker) Viewport() domain.Viewport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
