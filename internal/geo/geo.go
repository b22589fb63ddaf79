// Package geo holds the pure great-circle math shared by the alert engines
// and the rider client. No state, no error paths.
package geo

import "math"

const (
	earthRadiusKm = 6371.0

	// Speeds at or below this are treated as "not moving yet" and replaced
	// with defaultSpeedKmh when estimating arrival, so a parked bus does not
	// produce an absurd ETA.
	slowSpeedKmh    = 5.0
	defaultSpeedKmh = 20.0

	// ETAArrivingNow is returned when the bus is effectively at the rider.
	ETAArrivingNow = 0

	arrivingDistanceKm = 0.1
)

// DistanceKm returns the haversine great-circle distance in kilometres
// between two points given in degrees. Identical points yield 0. NaN or Inf
// inputs yield NaN, never a panic.
func DistanceKm(latA, lngA, latB, lngB float64) float64 {
	latARad := latA * math.Pi / 180
	latBRad := latB * math.Pi / 180
	dLat := (latB - latA) * math.Pi / 180
	dLng := (lngB - lngA) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latARad)*math.Cos(latBRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// ETAMinutes estimates minutes until arrival over distanceKm at speedKmh,
// rounded to the nearest minute. Near-stationary speeds fall back to a
// default cruising speed; distances under 100 m return ETAArrivingNow.
func ETAMinutes(distanceKm, speedKmh float64) int {
	if distanceKm < arrivingDistanceKm {
		return ETAArrivingNow
	}
	if speedKmh <= slowSpeedKmh {
		speedKmh = defaultSpeedKmh
	}
	return int(math.Round(distanceKm / speedKmh * 60))
}
