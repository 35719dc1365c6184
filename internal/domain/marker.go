package domain

// Marker colors
const (
	MarkerColorRed   = "red"
	MarkerColorGreen = "green"
	MarkerColorGray  = "gray"
)

// Marker - маркер на карте для одной GeoRecord
type Marker struct {
	RecordID int64  `json:"record_id"`
	Position LatLng `json:"position"`
	Color    string `json:"color"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
}

// Selection - выбранный маркер и точка привязки попапа на экране
type Selection struct {
	Marker Marker      `json:"marker"`
	Record GeoRecord   `json:"record"`
	Anchor ScreenPoint `json:"anchor"`
}
