// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/competition_recorder/internal/imu"
)

type mockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockSource creates a motion source that generates smooth changing values.
// Used when no IMU is configured.
func NewMockSource() imu.MotionSource {
	return &mockSource{start: time.Now(), now: time.Now}
}

func (m *mockSource) ReadMotion() (imu.Motion, error) {
	elapsed := m.now().Sub(m.start).Seconds()

	return imu.Motion{
		AccX:     0.2 * math.Sin(elapsed*3),
		AccY:     0.1 * math.Cos(elapsed*2),
		AccZ:     1 + 0.05*math.Sin(elapsed),
		GyroX:    20 * math.Sin(elapsed),
		GyroY:    15 * math.Cos(elapsed*0.7),
		GyroZ:    math.Mod(elapsed*30, 360) - 180,
		MagX:     22,
		MagY:     -4,
		MagZ:     40,
		Altitude: imu.NoAltitude,
	}, nil
}
