// Package maphost defines the capabilities a map widget exposes to a map
// session and the pieces shared by its implementations.
package maphost

import (
	"sync"

	"github.com/geoview-microservice/internal/domain"
)

// MapHost - виджет карты, к которому привязана сессия.
// Реализации выбираются при сборке приложения: WebSocket для веб-клиентов,
// Redis Streams для нативных.
type MapHost interface {
	// OnViewportChange подписывает fn на изменения видимой области
	OnViewportChange(fn func(domain.Viewport)) (unsubscribe func())
	// SeedViewport задает проекцию до первого viewport от клиента
	SeedViewport(v domain.Viewport)
	Project(p domain.LatLng) domain.ScreenPoint
	Unproject(p domain.ScreenPoint) domain.LatLng
	PlaceMarkers(markers []domain.Marker) error
	// ShowPopup показывает попап выделенного маркера; nil закрывает попап
	ShowPopup(selection *domain.Selection) error
}

// Base реализует подписку на viewport и проекцию, общие для всех хостов.
// Встраивается в конкретные реализации MapHost.
type Base struct {
	projector *Projector

	mu       sync.Mutex
	nextID   int
	handlers map[int]func(domain.Viewport)
}

// NewBase создает Base с пустой проекцией
func NewBase() *Base {
	return &Base{
		projector: NewProjector(),
		handlers:  make(map[int]func(domain.Viewport)),
	}
}

// OnViewportChange implements MapHost
func (b *Base) OnViewportChange(fn func(domain.Viewport)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// EmitViewport обновляет проекцию и уведомляет подписчиков
func (b *Base) EmitViewport(v domain.Viewport) {
	b.projector.SetViewport(v)

	b.mu.Lock()
	handlers := make([]func(domain.Viewport), 0, len(b.handlers))
	for _, fn := range b.handlers {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(v)
	}
}

// SeedViewport implements MapHost. Viewport, уже полученный от клиента,
// не перезаписывается; подписчики не уведомляются.
func (b *Base) SeedViewport(v domain.Viewport) {
	b.projector.SeedViewport(v)
}

// Project implements MapHost
func (b *Base) Project(p domain.LatLng) domain.ScreenPoint {
	return b.projector.Project(p)
}

// Unproject implements MapHost
func (b *Base) Unproject(p domain.ScreenPoint) domain.LatLng {
	return b.projector.Unproject(p)
}

// Projector возвращает проекцию хоста
func (b *Base) Projector() *Projector {
	return b.projector
}
