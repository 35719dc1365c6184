package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/pkg/metrics"
	"github.com/geoview-microservice/internal/pkg/utils"
)

// MarkerColor выбирает цвет маркера по знаку баланса записи
func MarkerColor(record domain.GeoRecord) string {
	switch {
	case record.Balance < 0:
		return domain.MarkerColorRed
	case record.Balance > 0:
		return domain.MarkerColorGreen
	default:
		return domain.MarkerColorGray
	}
}

// MarkerFromRecord строит маркер для записи. ok == false, если координаты
// отсутствуют или не разбираются.
func MarkerFromRecord(record domain.GeoRecord) (domain.Marker, bool) {
	if record.Coordinates == nil {
		return domain.Marker{}, false
	}
	pos, ok := utils.ParseLatLng(*record.Coordinates)
	if !ok {
		return domain.Marker{}, false
	}
	return domain.Marker{
		RecordID: record.ID,
		Position: pos,
		Color:    MarkerColor(record),
		Title:    record.FullName,
		Subtitle: record.Category,
	}, true
}

// RenderResult - итог перерисовки набора маркеров
type RenderResult struct {
	Markers []domain.Marker
	Skipped int
	// SelectionCleared is set when the selected record vanished from the new set
	SelectionCleared bool
	Selection        *domain.Selection
}

// MarkerRenderer хранит текущий набор маркеров и единственное выделение
type MarkerRenderer struct {
	logger *zap.Logger

	mu        sync.RWMutex
	markers   []domain.Marker
	records   map[int64]domain.GeoRecord
	index     map[int64]int
	selection *domain.Selection
}

// NewMarkerRenderer создает пустой MarkerRenderer
func NewMarkerRenderer(logger *zap.Logger) *MarkerRenderer {
	return &MarkerRenderer{
		logger:  logger,
		records: make(map[int64]domain.GeoRecord),
		index:   make(map[int64]int),
	}
}

// Render заменяет набор маркеров записями из page. Записи без валидных
// координат молча пропускаются. Выделение сохраняется только если его запись
// осталась в новом наборе.
func (r *MarkerRenderer) Render(page *domain.RecordPage) RenderResult {
	var data []domain.GeoRecord
	if page != nil {
		data = page.Data
	}

	markers := make([]domain.Marker, 0, len(data))
	records := make(map[int64]domain.GeoRecord, len(data))
	index := make(map[int64]int, len(data))
	skipped := 0

	for _, rec := range data {
		m, ok := MarkerFromRecord(rec)
		if !ok {
			skipped++
			continue
		}
		if _, dup := index[rec.ID]; dup {
			continue
		}
		index[rec.ID] = len(markers)
		markers = append(markers, m)
		records[rec.ID] = rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.markers = markers
	r.records = records
	r.index = index

	result := RenderResult{
		Markers: copyMarkers(markers),
		Skipped: skipped,
	}

	if r.selection != nil {
		id := r.selection.Marker.RecordID
		if i, ok := index[id]; ok {
			r.selection = &domain.Selection{
				Marker: markers[i],
				Record: records[id],
				Anchor: r.selection.Anchor,
			}
			sel := *r.selection
			result.Selection = &sel
		} else {
			r.logger.Debug("Selected record left the viewport, closing popup", zap.Int64("record_id", id))
			r.selection = nil
			result.SelectionCleared = true
		}
	}

	metrics.MarkersRendered.Observe(float64(len(markers)))
	if skipped > 0 {
		r.logger.Debug("Records without usable coordinates skipped", zap.Int("skipped", skipped))
	}

	return result
}

// Markers возвращает копию текущего набора маркеров
func (r *MarkerRenderer) Markers() []domain.Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMarkers(r.markers)
}

// Marker возвращает маркер записи recordID из текущего набора
func (r *MarkerRenderer) Marker(recordID int64) (domain.Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[recordID]
	if !ok {
		return domain.Marker{}, false
	}
	return r.markers[i], true
}

// Select выделяет маркер записи recordID, заменяя предыдущее выделение
func (r *MarkerRenderer) Select(recordID int64, anchor domain.ScreenPoint) (*domain.Selection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[recordID]
	if !ok {
		return nil, apperrors.ErrRecordNotFound.WithDetails(map[string]interface{}{
			"record_id": recordID,
		})
	}

	r.selection = &domain.Selection{
		Marker: r.markers[i],
		Record: r.records[recordID],
		Anchor: anchor,
	}
	sel := *r.selection
	return &sel, nil
}

// Reanchor меняет якорь текущего выделения, только если оно все еще
// указывает на recordID. Возвращает false, если выделение снято или заменено.
func (r *MarkerRenderer) Reanchor(recordID int64, anchor domain.ScreenPoint) (*domain.Selection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.selection == nil || r.selection.Marker.RecordID != recordID {
		return nil, false
	}
	r.selection.Anchor = anchor
	sel := *r.selection
	return &sel, true
}

// Selection возвращает текущее выделение или nil
func (r *MarkerRenderer) Selection() *domain.Selection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.selection == nil {
		return nil
	}
	sel := *r.selection
	return &sel
}

// Close снимает выделение. Возвращает true, если выделение было.
func (r *MarkerRenderer) Close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	had := r.selection != nil
	r.selection = nil
	return had
}

// Nearest находит ближайший к position маркер в радиусе radiusMeters
func (r *MarkerRenderer) Nearest(position domain.LatLng, radiusMeters float64) (domain.Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best     domain.Marker
		bestDist = radiusMeters
		found    bool
	)
	for _, m := range r.markers {
		d := utils.DistanceMeters(position, m.Position)
		if d <= bestDist {
			best, bestDist, found = m, d, true
		}
	}
	return best, found
}

func copyMarkers(markers []domain.Marker) []domain.Marker {
	out := make([]domain.Marker, len(markers))
	copy(out, markers)
	return out
}
