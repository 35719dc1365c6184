package utils

import (
	"math"
	"strconv"
	"strings"

	"github.com/geoview-microservice/internal/domain"
)

const earthRadiusKm = 6371.0

// HaversineDistance вычисляет расстояние между двумя точками в километрах
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	lat1Rad := lat1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceMeters - то же, что HaversineDistance, но для domain.LatLng и в метрах
func DistanceMeters(a, b domain.LatLng) float64 {
	return HaversineDistance(a.Lat, a.Lng, b.Lat, b.Lng) * 1000
}

// ValidateCoordinates проверяет валидность координат
func ValidateCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ParseLatLng разбирает строку вида "lat,lng".
// Ровно две части, обе конечные числа в допустимых диапазонах; иначе ok == false.
func ParseLatLng(s string) (domain.LatLng, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return domain.LatLng{}, false
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return domain.LatLng{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return domain.LatLng{}, false
	}

	p := domain.LatLng{Lat: lat, Lng: lng}
	if !p.IsFinite() || !ValidateCoordinates(lat, lng) {
		return domain.LatLng{}, false
	}
	return p, true
}

// FormatLatLng - обратная операция к ParseLatLng
func FormatLatLng(p domain.LatLng) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}
