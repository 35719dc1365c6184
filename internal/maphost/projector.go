package maphost

import (
	"math"
	"sync"

	"github.com/geoview-microservice/internal/domain"
)

// maxMercatorLat - предел широты Web Mercator
const maxMercatorLat = 85.05112878

// Projector переводит координаты в точки экрана и обратно (Web Mercator),
// подгоняя проекцию под последний viewport и размер виджета.
type Projector struct {
	mu       sync.RWMutex
	viewport domain.Viewport
}

// NewProjector создает Projector без viewport
func NewProjector() *Projector {
	return &Projector{}
}

// SetViewport задает текущую видимую область
func (p *Projector) SetViewport(v domain.Viewport) {
	p.mu.Lock()
	p.viewport = v
	p.mu.Unlock()
}

// SeedViewport задает v, только если viewport еще не задан
func (p *Projector) SeedViewport(v domain.Viewport) {
	p.mu.Lock()
	if p.viewport == (domain.Viewport{}) {
		p.viewport = v
	}
	p.mu.Unlock()
}

// Viewport возвращает текущую видимую область
func (p *Projector) Viewport() domain.Viewport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.viewport
}

// Project возвращает точку экрана для координаты. Для вырожденного
// viewport возвращается нулевая точка.
func (p *Projector) Project(ll domain.LatLng) domain.ScreenPoint {
	v := p.Viewport()
	b := v.Bounds

	lngSpan := b.NorthEast.Lng - b.SouthWest.Lng
	top, bottom := mercatorY(b.NorthEast.Lat), mercatorY(b.SouthWest.Lat)
	ySpan := top - bottom
	if lngSpan <= 0 || ySpan <= 0 || v.Size.Width <= 0 || v.Size.Height <= 0 {
		return domain.ScreenPoint{}
	}

	return domain.ScreenPoint{
		X: (ll.Lng - b.SouthWest.Lng) / lngSpan * float64(v.Size.Width),
		Y: (top - mercatorY(ll.Lat)) / ySpan * float64(v.Size.Height),
	}
}

// Unproject - обратное преобразование к Project. Для вырожденного viewport
// возвращается центр области.
func (p *Projector) Unproject(pt domain.ScreenPoint) domain.LatLng {
	v := p.Viewport()
	b := v.Bounds

	lngSpan := b.NorthEast.Lng - b.SouthWest.Lng
	top, bottom := mercatorY(b.NorthEast.Lat), mercatorY(b.SouthWest.Lat)
	ySpan := top - bottom
	if lngSpan <= 0 || ySpan <= 0 || v.Size.Width <= 0 || v.Size.Height <= 0 {
		return b.Center()
	}

	y := top - pt.Y/float64(v.Size.Height)*ySpan
	return domain.LatLng{
		Lat: inverseMercatorY(y),
		Lng: b.SouthWest.Lng + pt.X/float64(v.Size.Width)*lngSpan,
	}
}

func mercatorY(lat float64) float64 {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	rad := lat * math.Pi / 180
	return math.Log(math.Tan(math.Pi/4 + rad/2))
}

func inverseMercatorY(y float64) float64 {
	return (2*math.Atan(math.Exp(y)) - math.Pi/2) * 180 / math.Pi
}
