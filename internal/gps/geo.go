// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "math"

const earthRadiusM = 6371000.0

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceMeters returns the great-circle distance between a and b (haversine).
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Zone is a circular geofence.
type Zone struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_m"`
}

// Contains reports whether c is within the zone radius (boundary inclusive).
func (z Zone) Contains(c Coordinate) bool {
	return DistanceMeters(z.Center, c) <= z.RadiusMeters
}

// Offset returns the point distanceM meters from c along bearingDeg (0 = north).
func Offset(c Coordinate, distanceM, bearingDeg float64) Coordinate {
	lat1 := c.Lat * math.Pi / 180
	lon1 := c.Lon * math.Pi / 180
	brg := bearingDeg * math.Pi / 180
	ang := distanceM / earthRadiusM

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(ang)*math.Cos(lat1), math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))
	return Coordinate{Lat: lat2 * 180 / math.Pi, Lon: lon2 * 180 / math.Pi}
}
