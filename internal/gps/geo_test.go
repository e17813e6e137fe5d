package gps

import (
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := DistanceMeters(Coordinate{-6.2, 106.816}, Coordinate{-6.9175, 107.6191})
	if d < 100_000 || d > 140_000 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	origin := Coordinate{Lat: 46.5, Lon: 11.3}
	for _, dist := range []float64{1, 49, 51, 1000} {
		p := Offset(origin, dist, 73)
		if got := DistanceMeters(origin, p); math.Abs(got-dist) > 0.01 {
			t.Fatalf("offset %vm measured %vm", dist, got)
		}
	}
}

func TestZoneContains(t *testing.T) {
	z := Zone{Center: Coordinate{Lat: 46.5, Lon: 11.3}, RadiusMeters: 50}
	if !z.Contains(Offset(z.Center, 49, 180)) {
		t.Fatalf("49m should be inside a 50m zone")
	}
	if z.Contains(Offset(z.Center, 51, 180)) {
		t.Fatalf("51m should be outside a 50m zone")
	}
}
