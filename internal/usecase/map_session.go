package usecase

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/config"
	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/domain/repository"
	"github.com/geoview-microservice/internal/maphost"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/pkg/geo"
	"github.com/geoview-microservice/internal/pkg/utils"
	"github.com/geoview-microservice/internal/viewport"
)

// MapSessionConfig - параметры одной сессии карты
type MapSessionConfig struct {
	SettleDuration  time.Duration
	FetchTimeout    time.Duration
	PerPage         int
	KeyPrecision    int
	DefaultViewport domain.Viewport
	TapRadiusPx     float64
}

// MapSessionConfigFrom собирает MapSessionConfig из конфигурации приложения
func MapSessionConfigFrom(cfg *config.Config) MapSessionConfig {
	return MapSessionConfig{
		SettleDuration: cfg.Viewport.SettleDuration,
		FetchTimeout:   cfg.Viewport.FetchTimeout,
		PerPage:        cfg.Records.PerPage,
		KeyPrecision:   cfg.Viewport.KeyPrecision,
		DefaultViewport: domain.ViewportFromRegion(domain.Region{
			Center:         domain.LatLng{Lat: cfg.Viewport.DefaultLat, Lng: cfg.Viewport.DefaultLng},
			LatitudeDelta:  cfg.Viewport.DefaultLatDelta,
			LongitudeDelta: cfg.Viewport.DefaultLngDelta,
		}, domain.ScreenSize{Width: cfg.Viewport.DefaultWidth, Height: cfg.Viewport.DefaultHeight}),
		TapRadiusPx: cfg.Viewport.TapRadiusPx,
	}
}

// MapSession связывает один виджет карты с трекером, debouncer и рендерером
type MapSession struct {
	id        string
	host      maphost.MapHost
	tracker   *viewport.Tracker
	debouncer *QueryDebouncer
	renderer  *MarkerRenderer
	logger    *zap.Logger

	tapRadiusPx float64
	fallback    domain.Viewport

	// popupMu упорядочивает изменения выделения и соответствующие записи попапа в хост
	popupMu sync.Mutex

	mu          sync.Mutex
	unsubscribe func()
	started     bool
	stopped     bool
}

// NewMapSession создает сессию. Запросы начинаются после Start.
func NewMapSession(
	id string,
	host maphost.MapHost,
	source repository.RecordSource,
	clk clock.Clock,
	cfg MapSessionConfig,
	logger *zap.Logger,
) *MapSession {
	logger = logger.With(zap.String("session_id", id))

	s := &MapSession{
		id:          id,
		host:        host,
		renderer:    NewMarkerRenderer(logger),
		logger:      logger,
		tapRadiusPx: cfg.TapRadiusPx,
		fallback:    cfg.DefaultViewport,
	}
	s.debouncer = NewQueryDebouncer(source, clk, DebouncerConfig{
		SettleDuration: cfg.SettleDuration,
		FetchTimeout:   cfg.FetchTimeout,
		PerPage:        cfg.PerPage,
	}, s.onResult, logger)
	s.tracker = viewport.NewTracker(geo.NewEncoder(cfg.KeyPrecision), s.debouncer, cfg.DefaultViewport, logger)

	return s
}

// ID возвращает идентификатор сессии
func (s *MapSession) ID() string {
	return s.id
}

// Start подписывается на viewport хоста и запрашивает область по умолчанию
func (s *MapSession) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.unsubscribe = s.host.OnViewportChange(func(v domain.Viewport) {
		s.tracker.Observe(v)
	})
	s.mu.Unlock()

	s.logger.Info("Map session started")
	s.host.SeedViewport(s.fallback)
	s.tracker.Start()
}

// Stop отписывается от хоста и останавливает debouncer
func (s *MapSession) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.debouncer.Stop()
	s.logger.Info("Map session stopped")
}

// SetFilters implements maphost.Controller
func (s *MapSession) SetFilters(filters domain.RecordFilters) {
	s.debouncer.SetFilters(filters)
}

// SelectRecord implements maphost.Controller
func (s *MapSession) SelectRecord(recordID int64) error {
	marker, ok := s.renderer.Marker(recordID)
	if !ok {
		return apperrors.ErrRecordNotFound.WithDetails(map[string]interface{}{
			"record_id": recordID,
		})
	}
	return s.selectMarker(marker)
}

// SelectAt implements maphost.Controller. Тап выбирает ближайший маркер в
// радиусе tapRadiusPx; тап мимо маркеров закрывает попап.
func (s *MapSession) SelectAt(point domain.ScreenPoint) error {
	position := s.host.Unproject(point)
	edge := s.host.Unproject(domain.ScreenPoint{X: point.X + s.tapRadiusPx, Y: point.Y})
	radius := utils.DistanceMeters(position, edge)

	marker, ok := s.renderer.Nearest(position, radius)
	if !ok {
		return s.ClosePopup()
	}
	return s.selectMarker(marker)
}

// ClosePopup implements maphost.Controller
func (s *MapSession) ClosePopup() error {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()

	if !s.renderer.Close() {
		return nil
	}
	return s.host.ShowPopup(nil)
}

// Markers возвращает текущий набор маркеров
func (s *MapSession) Markers() []domain.Marker {
	return s.renderer.Markers()
}

// Selection возвращает текущее выделение
func (s *MapSession) Selection() *domain.Selection {
	return s.renderer.Selection()
}

// Debouncer возвращает состояние debouncer
func (s *MapSession) Debouncer() DebouncerSnapshot {
	return s.debouncer.Snapshot()
}

func (s *MapSession) selectMarker(marker domain.Marker) error {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()

	sel, err := s.renderer.Select(marker.RecordID, s.host.Project(marker.Position))
	if err != nil {
		return err
	}
	return s.host.ShowPopup(sel)
}

// refreshPopup переносит якорь попапа за маркером после сдвига карты.
// Если пользователь закрыл попап или выбрал другой маркер, ничего не делает.
func (s *MapSession) refreshPopup(marker domain.Marker) {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()

	sel, ok := s.renderer.Reanchor(marker.RecordID, s.host.Project(marker.Position))
	if !ok {
		return
	}
	if err := s.host.ShowPopup(sel); err != nil {
		s.logger.Warn("Failed to refresh popup", zap.Error(err))
	}
}

// closeVanishedPopup закрывает попап записи, пропавшей из нового набора,
// если пользователь не успел выбрать другой маркер
func (s *MapSession) closeVanishedPopup() {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()

	if s.renderer.Selection() != nil {
		return
	}
	if err := s.host.ShowPopup(nil); err != nil {
		s.logger.Warn("Failed to close popup", zap.Error(err))
	}
}

func (s *MapSession) onResult(query domain.RegionQuery, page *domain.RecordPage) {
	result := s.renderer.Render(page)

	if err := s.host.PlaceMarkers(result.Markers); err != nil {
		s.logger.Warn("Failed to place markers", zap.Error(err))
	}

	switch {
	case result.SelectionCleared:
		s.closeVanishedPopup()
	case result.Selection != nil:
		s.refreshPopup(result.Selection.Marker)
	}

	s.logger.Debug("Markers rendered",
		zap.String("region", string(query.Region)),
		zap.Int("markers", len(result.Markers)),
		zap.Int("skipped", result.Skipped))
}
