package geo

import (
	"math"
	"testing"
)

func TestDistanceKmIdenticalPoints(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{22.7, 90.35},
		{-33.86, 151.21},
		{89.9, -179.9},
	}
	for _, p := range points {
		if d := DistanceKm(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("DistanceKm(%v,%v,same) = %v, want 0", p[0], p[1], d)
		}
	}
}

func TestDistanceKmSymmetry(t *testing.T) {
	ab := DistanceKm(22.7, 90.35, 23.81, 90.41)
	ba := DistanceKm(23.81, 90.41, 22.7, 90.35)
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("asymmetric distance: %v vs %v", ab, ba)
	}
}

func TestDistanceKmKnownFixture(t *testing.T) {
	// Reference haversine value near Barishal campus.
	d := DistanceKm(22.7, 90.35, 22.71, 90.36)
	if math.Abs(d-1.37) > 0.05 {
		t.Errorf("DistanceKm = %v km, want 1.37 ±0.05", d)
	}
}

func TestDistanceKmAntipodal(t *testing.T) {
	d := DistanceKm(0, 0, 0, 180)
	half := math.Pi * earthRadiusKm
	if math.Abs(d-half) > 1 {
		t.Errorf("antipodal distance = %v, want ~%v", d, half)
	}
}

func TestDistanceKmNaNInputDoesNotPanic(t *testing.T) {
	d := DistanceKm(math.NaN(), 90.35, 22.71, 90.36)
	if !math.IsNaN(d) {
		t.Errorf("DistanceKm with NaN input = %v, want NaN", d)
	}
}

func TestETAMinutes(t *testing.T) {
	tests := []struct {
		name       string
		distanceKm float64
		speedKmh   float64
		want       int
	}{
		{"arriving now under 100m", 0.05, 30, ETAArrivingNow},
		{"normal cruise", 5, 30, 10},
		{"rounds to nearest minute", 5.2, 30, 10},
		{"stationary uses default speed", 10, 0, 30},
		{"slow uses default speed", 10, 5, 30},
		{"just above slow threshold", 10, 6, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ETAMinutes(tt.distanceKm, tt.speedKmh); got != tt.want {
				t.Errorf("ETAMinutes(%v, %v) = %d, want %d", tt.distanceKm, tt.speedKmh, got, tt.want)
			}
		})
	}
}
