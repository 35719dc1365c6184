package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/geoview-microservice/internal/domain"
)

func TestParseLatLng(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  domain.LatLng
		ok    bool
	}{
		{name: "valid pair", input: "40.7128,-74.0060", want: domain.LatLng{Lat: 40.7128, Lng: -74.0060}, ok: true},
		{name: "spaces around parts", input: " 41.38 , 2.17 ", want: domain.LatLng{Lat: 41.38, Lng: 2.17}, ok: true},
		{name: "integers", input: "0,0", want: domain.LatLng{}, ok: true},
		{name: "not a number", input: "abc", ok: false},
		{name: "three parts", input: "1,2,3", ok: false},
		{name: "empty", input: "", ok: false},
		{name: "one side missing", input: "40.1,", ok: false},
		{name: "NaN", input: "NaN,1", ok: false},
		{name: "infinite", input: "Inf,1", ok: false},
		{name: "latitude out of range", input: "91,10", ok: false},
		{name: "longitude out of range", input: "10,181", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLatLng(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want.Lat, got.Lat, 1e-9)
				assert.InDelta(t, tt.want.Lng, got.Lng, 1e-9)
			}
		})
	}
}

func TestFormatLatLng_RoundTrip(t *testing.T) {
	p := domain.LatLng{Lat: 40.7128, Lng: -74.006}

	got, ok := ParseLatLng(FormatLatLng(p))
	assert.True(t, ok)
	assert.Equal(t, p, got)
}

func TestDistanceMeters(t *testing.T) {
	// Barcelona: Plaça de Catalunya -> Sagrada Família, ~1.9 km
	a := domain.LatLng{Lat: 41.3870, Lng: 2.1701}
	b := domain.LatLng{Lat: 41.4036, Lng: 2.1744}

	d := DistanceMeters(a, b)
	assert.InDelta(t, 1880, d, 150)
	assert.Zero(t, DistanceMeters(a, a))
}

func TestValidateCoordinates(t *testing.T) {
	assert.True(t, ValidateCoordinates(0, 0))
	assert.True(t, ValidateCoordinates(-90, 180))
	assert.False(t, ValidateCoordinates(-90.1, 0))
	assert.False(t, ValidateCoordinates(0, -180.5))
}
