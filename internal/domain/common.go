package domain

import "math"

// LatLng - географическая координата (WGS 84)
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsFinite проверяет, что обе компоненты не NaN и не Inf
func (p LatLng) IsFinite() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}

// ScreenPoint - точка в экранных координатах виджета карты (px, начало в левом верхнем углу)
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScreenSize - размер виджета карты в пикселях
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bounds - прямоугольная область, заданная юго-западным и северо-восточным углами.
// Переход через антимеридиан не поддерживается: south <= north, west <= east.
type Bounds struct {
	SouthWest LatLng `json:"sw"`
	NorthEast LatLng `json:"ne"`
}

// NorthWest возвращает северо-западный угол
func (b Bounds) NorthWest() LatLng {
	return LatLng{Lat: b.NorthEast.Lat, Lng: b.SouthWest.Lng}
}

// SouthEast возвращает юго-восточный угол
func (b Bounds) SouthEast() LatLng {
	return LatLng{Lat: b.SouthWest.Lat, Lng: b.NorthEast.Lng}
}

// Center возвращает центр области
func (b Bounds) Center() LatLng {
	return LatLng{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lng: (b.SouthWest.Lng + b.NorthEast.Lng) / 2,
	}
}

// Contains проверяет, попадает ли точка в область (границы включительно)
func (b Bounds) Contains(p LatLng) bool {
	return p.Lat >= b.SouthWest.Lat && p.Lat <= b.NorthEast.Lat &&
		p.Lng >= b.SouthWest.Lng && p.Lng <= b.NorthEast.Lng
}

// Region - область в форме "центр + размах", как её отдают нативные виджеты карт
type Region struct {
	Center         LatLng  `json:"center"`
	LatitudeDelta  float64 `json:"latitude_delta"`
	LongitudeDelta float64 `json:"longitude_delta"`
}

// Bounds переводит регион в углы: center ± delta/2
func (r Region) Bounds() Bounds {
	return Bounds{
		SouthWest: LatLng{
			Lat: r.Center.Lat - r.LatitudeDelta/2,
			Lng: r.Center.Lng - r.LongitudeDelta/2,
		},
		NorthEast: LatLng{
			Lat: r.Center.Lat + r.LatitudeDelta/2,
			Lng: r.Center.Lng + r.LongitudeDelta/2,
		},
	}
}

// Viewport - видимая область карты вместе с размером виджета
type Viewport struct {
	Bounds Bounds     `json:"bounds"`
	Size   ScreenSize `json:"size"`
}

// ViewportFromRegion строит Viewport из формы "центр + размах"
func ViewportFromRegion(r Region, size ScreenSize) Viewport {
	return Viewport{Bounds: r.Bounds(), Size: size}
}

// ViewportFromCorners строит Viewport из углов SW/NE
func ViewportFromCorners(sw, ne LatLng, size ScreenSize) Viewport {
	return Viewport{Bounds: Bounds{SouthWest: sw, NorthEast: ne}, Size: size}
}

// RegionKey - каноническая строка (WKT POLYGON) для Viewport.
// Используется и как параметр запроса, и как ключ дедупликации.
type RegionKey string

// String implements fmt.Stringer
func (k RegionKey) String() string {
	return string(k)
}
