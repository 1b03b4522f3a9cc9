package geo

import (
	"math"
	"testing"
	"time"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantM                  float64
		tolM                   float64
	}{
		{"zero distance", 52.23, 21.01, 52.23, 21.01, 0, 0.001},
		{"one degree of latitude", 52.0, 21.0, 53.0, 21.0, 111195, 200},
		{"warsaw to krakow", 52.2297, 21.0122, 50.0647, 19.9450, 252000, 5000},
		{"short hop", 52.230000, 21.010000, 52.230018, 21.010000, 2.0, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.wantM) > tt.tolM {
				t.Errorf("Haversine = %f m, want %f ± %f", got, tt.wantM, tt.tolM)
			}
		})
	}
}

func TestValidLatLon(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     bool
	}{
		{52.23, 21.01, true},
		{90, 180, true},
		{-90, -180, true},
		{90.0001, 0, false},
		{-90.0001, 0, false},
		{0, 180.0001, false},
		{0, -180.0001, false},
	}
	for _, tt := range tests {
		if got := ValidLatLon(tt.lat, tt.lon); got != tt.want {
			t.Errorf("ValidLatLon(%f, %f) = %t, want %t", tt.lat, tt.lon, got, tt.want)
		}
	}
}

func TestMagneticDeclination(t *testing.T) {
	// Warsaw sits at roughly +6..+8 degrees east declination this decade
	decl := MagneticDeclination(52.2297, 21.0122, 100, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if decl < 3 || decl > 12 {
		t.Errorf("implausible declination for Warsaw: %f", decl)
	}
}
