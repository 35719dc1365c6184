// Package geo переводит viewport карты в WKT ключи регионов и обратно.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/pkg/utils"
)

// DefaultPrecision - знаков после запятой в ключе региона (~0.1 м)
const DefaultPrecision = 6

var (
	// ErrInvalidViewport - хост прислал viewport, который нельзя закодировать
	ErrInvalidViewport = errors.New("geo: invalid viewport")

	// ErrInvalidPolygon - within_polygon не является одним замкнутым кольцом
	ErrInvalidPolygon = errors.New("geo: invalid polygon")
)

// Encoder строит ключи регионов. Фиксированная точность даёт одинаковые
// ключи для численно равных viewport.
type Encoder struct {
	precision int
}

// NewEncoder создает Encoder. При отрицательной точности координаты
// пишутся кратчайшей записью без потери значения
func NewEncoder(precision int) *Encoder {
	return &Encoder{precision: precision}
}

// Precision возвращает число знаков после запятой
func (e *Encoder) Precision() int {
	return e.precision
}

// Encode выводит b как POLYGON((lng lat, ...)) в порядке SW -> NW -> NE -> SE -> SW
func (e *Encoder) Encode(b domain.Bounds) (domain.RegionKey, error) {
	poly, err := Polygon(b)
	if err != nil {
		return "", err
	}

	ring := poly.LinearRing(0)
	vertices := make([]string, 0, ring.NumCoords())
	for i := 0; i < ring.NumCoords(); i++ {
		c := ring.Coord(i)
		vertices = append(vertices, e.formatFloat(c.X())+" "+e.formatFloat(c.Y()))
	}

	return domain.RegionKey("POLYGON((" + strings.Join(vertices, ", ") + "))"), nil
}

// EncodeViewport кодирует границы v, размер экрана в ключ не входит
func (e *Encoder) EncodeViewport(v domain.Viewport) (domain.RegionKey, error) {
	return e.Encode(v.Bounds)
}

// EncodeRegion кодирует регион, заданный центром и размахом
func (e *Encoder) EncodeRegion(r domain.Region) (domain.RegionKey, error) {
	if err := validateRegion(r); err != nil {
		return "", err
	}
	return e.Encode(r.Bounds())
}

func (e *Encoder) formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', e.precision, 64)
	// -0.00 и 0.00 дают один и тот же ключ
	if strings.HasPrefix(s, "-") && strings.Trim(s, "-0.") == "" {
		return s[1:]
	}
	return s
}

// Polygon строит замкнутое кольцо из 5 вершин для b
func Polygon(b domain.Bounds) (*geom.Polygon, error) {
	if err := ValidateBounds(b); err != nil {
		return nil, err
	}

	sw, nw, ne, se := b.SouthWest, b.NorthWest(), b.NorthEast, b.SouthEast()
	ring := []geom.Coord{
		{sw.Lng, sw.Lat},
		{nw.Lng, nw.Lat},
		{ne.Lng, ne.Lat},
		{se.Lng, se.Lat},
		{sw.Lng, sw.Lat},
	}

	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidViewport, err)
	}
	return poly, nil
}

// ValidateBounds проверяет углы: конечные значения в диапазонах WGS 84,
// south <= north и west <= east
func ValidateBounds(b domain.Bounds) error {
	for _, p := range []domain.LatLng{b.SouthWest, b.NorthEast} {
		if !p.IsFinite() {
			return fmt.Errorf("%w: non-finite corner %v", ErrInvalidViewport, p)
		}
		if !utils.ValidateCoordinates(p.Lat, p.Lng) {
			return fmt.Errorf("%w: corner %v out of range", ErrInvalidViewport, p)
		}
	}
	if b.SouthWest.Lat > b.NorthEast.Lat {
		return fmt.Errorf("%w: south %v > north %v", ErrInvalidViewport, b.SouthWest.Lat, b.NorthEast.Lat)
	}
	if b.SouthWest.Lng > b.NorthEast.Lng {
		return fmt.Errorf("%w: west %v > east %v", ErrInvalidViewport, b.SouthWest.Lng, b.NorthEast.Lng)
	}
	return nil
}

func validateRegion(r domain.Region) error {
	if !r.Center.IsFinite() {
		return fmt.Errorf("%w: non-finite center %v", ErrInvalidViewport, r.Center)
	}
	for _, d := range []float64{r.LatitudeDelta, r.LongitudeDelta} {
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return fmt.Errorf("%w: span %v", ErrInvalidViewport, d)
		}
	}
	return nil
}

// ParsePolygon разбирает WKT POLYGON с одним замкнутым кольцом и возвращает
// его охват. Принимает написания "POLYGON((" и "POLYGON ((".
func ParsePolygon(s string) (domain.Bounds, error) {
	g, err := wkt.Unmarshal(strings.TrimSpace(s))
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}

	poly, ok := g.(*geom.Polygon)
	if !ok {
		return domain.Bounds{}, fmt.Errorf("%w: expected POLYGON, got %T", ErrInvalidPolygon, g)
	}
	if poly.NumLinearRings() != 1 {
		return domain.Bounds{}, fmt.Errorf("%w: expected 1 ring, got %d", ErrInvalidPolygon, poly.NumLinearRings())
	}

	ring := poly.LinearRing(0)
	n := ring.NumCoords()
	if n < 4 {
		return domain.Bounds{}, fmt.Errorf("%w: ring has %d vertices", ErrInvalidPolygon, n)
	}
	first, last := ring.Coord(0), ring.Coord(n-1)
	if first.X() != last.X() || first.Y() != last.Y() {
		return domain.Bounds{}, fmt.Errorf("%w: ring is not closed", ErrInvalidPolygon)
	}
	for i := 0; i < n; i++ {
		c := ring.Coord(i)
		p := domain.LatLng{Lat: c.Y(), Lng: c.X()}
		if !p.IsFinite() || !utils.ValidateCoordinates(p.Lat, p.Lng) {
			return domain.Bounds{}, fmt.Errorf("%w: vertex %d out of range", ErrInvalidPolygon, i)
		}
	}

	env := poly.Bounds()
	return domain.Bounds{
		SouthWest: domain.LatLng{Lat: env.Min(1), Lng: env.Min(0)},
		NorthEast: domain.LatLng{Lat: env.Max(1), Lng: env.Max(0)},
	}, nil
}
