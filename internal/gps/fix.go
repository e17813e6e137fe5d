// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "time"

const knotsToMps = 0.514444

// Fix represents a single combined GPS fix.
type Fix struct {
	Time       time.Time  `json:"time"`
	Position   Coordinate `json:"position"`
	SpeedMps   float64    `json:"speed_mps"`  // speed over ground
	CourseDeg  float64    `json:"course_deg"` // course over ground
	AltitudeM  float64    `json:"altitude_m"` // from GGA; 0 until seen
	HasAlt     bool       `json:"has_alt"`
	Valid      bool       `json:"valid"` // RMC validity "A"
	Satellites int64      `json:"satellites"`
}
