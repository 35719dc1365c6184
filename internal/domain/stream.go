package domain

// Stream names
const (
	StreamViewportEvents = "stream:geoview:viewport"
	StreamMarkerUpdates  = "stream:geoview:markers"
)

// Типы входящих событий от нативных клиентов карты
const (
	ViewportEventAttach     = "attach"
	ViewportEventViewport   = "viewport"
	ViewportEventFilters    = "filters"
	ViewportEventSelect     = "select"
	ViewportEventTap        = "tap"
	ViewportEventClosePopup = "close_popup"
	ViewportEventDetach     = "detach"
)

// Типы исходящих событий
const (
	MarkerUpdateMarkers = "markers"
	MarkerUpdatePopup   = "popup"
	MarkerUpdateError   = "error"
)

// ViewportEvent - входящее событие от клиента карты.
// Область задаётся либо углами (SW/NE), либо регионом (центр + размах).
type ViewportEvent struct {
	ClientID string         `json:"client_id"`
	Type     string         `json:"type"`
	Bounds   *Bounds        `json:"bounds,omitempty"`
	Region   *Region        `json:"region,omitempty"`
	Size     ScreenSize     `json:"size,omitempty"`
	Filters  *RecordFilters `json:"filters,omitempty"`
	RecordID *int64         `json:"record_id,omitempty"`
	Point    *ScreenPoint   `json:"point,omitempty"`
}

// Viewport возвращает Viewport события, если область задана
func (e *ViewportEvent) Viewport() (Viewport, bool) {
	switch {
	case e.Bounds != nil:
		return Viewport{Bounds: *e.Bounds, Size: e.Size}, true
	case e.Region != nil:
		return ViewportFromRegion(*e.Region, e.Size), true
	default:
		return Viewport{}, false
	}
}

// MarkerUpdateEvent - исходящее событие для клиента карты
type MarkerUpdateEvent struct {
	ClientID  string      `json:"client_id"`
	Type      string      `json:"type"`
	Markers   []Marker    `json:"markers,omitempty"`
	Selection *Selection  `json:"selection,omitempty"`
	Error     *EventError `json:"error,omitempty"`
}

// EventError - ошибка обработки входящего события, отправляемая клиенту
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamMessage - сообщение из Redis Stream
type StreamMessage struct {
	ID   string
	Data string
}
