// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "time"

// NoAltitude is stored in PhoneSample.Altitude when the barometer has no reading.
const NoAltitude = -11034.0

// NoSpeed is stored in PhoneSample.Speed when no GPS speed is known.
const NoSpeed = -1.0

const (
	// PhoneFeatures is the per-sample feature arity of a phone sample (acc, gyro, mag).
	PhoneFeatures = 9
	// DeviceFeatures is the per-sample feature arity of a paired device sample (acc, gyro).
	DeviceFeatures = 6
)

// PhoneSample is one on-device reading taken on a sampling tick.
// A nil *PhoneSample is a placeholder for a tick without a reading.
type PhoneSample struct {
	Timestamp time.Time `json:"timestamp"`
	Altitude  float64   `json:"altitude"` // meters, NoAltitude if unknown
	Speed     float64   `json:"speed"`    // m/s, NoSpeed if unknown

	AccX float64 `json:"acc_x"` // g
	AccY float64 `json:"acc_y"`
	AccZ float64 `json:"acc_z"`

	GyroX float64 `json:"gyro_x"` // deg/s
	GyroY float64 `json:"gyro_y"`
	GyroZ float64 `json:"gyro_z"`

	MagX float64 `json:"mag_x"` // µT
	MagY float64 `json:"mag_y"`
	MagZ float64 `json:"mag_z"`

	HasAudio bool `json:"has_audio"`
}

// DeviceSample is one reading from a paired sensor device.
type DeviceSample struct {
	AccX float64 `json:"acc_x"`
	AccY float64 `json:"acc_y"`
	AccZ float64 `json:"acc_z"`

	GyroX float64 `json:"gyro_x"`
	GyroY float64 `json:"gyro_y"`
	GyroZ float64 `json:"gyro_z"`
}

// AppendFeatures appends the 9 model features of s to dst.
// A nil sample contributes zeros.
func (s *PhoneSample) AppendFeatures(dst []float32) []float32 {
	if s == nil {
		return append(dst, make([]float32, PhoneFeatures)...)
	}
	return append(dst,
		float32(s.AccX), float32(s.AccY), float32(s.AccZ),
		float32(s.GyroX), float32(s.GyroY), float32(s.GyroZ),
		float32(s.MagX), float32(s.MagY), float32(s.MagZ),
	)
}

// AppendFeatures appends the 6 model features of s to dst.
// A nil sample contributes zeros.
func (s *DeviceSample) AppendFeatures(dst []float32) []float32 {
	if s == nil {
		return append(dst, make([]float32, DeviceFeatures)...)
	}
	return append(dst,
		float32(s.AccX), float32(s.AccY), float32(s.AccZ),
		float32(s.GyroX), float32(s.GyroY), float32(s.GyroZ),
	)
}

// Motion is a raw motion reading from the on-device sensors.
type Motion struct {
	AccX, AccY, AccZ    float64
	GyroX, GyroY, GyroZ float64
	MagX, MagY, MagZ    float64

	// Altitude is NoAltitude when the barometer is unavailable.
	Altitude float64
}

// MotionSource is anything that can provide on-device motion readings.
type MotionSource interface {
	ReadMotion() (Motion, error)
}
