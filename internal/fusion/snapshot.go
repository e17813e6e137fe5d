// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion defines the fusion window builder contract and the snapshot
// it delivers to the prediction scheduler.
package fusion

import "github.com/relabs-tech/competition_recorder/internal/imu"

// Snapshot is a bounded, time-ordered bundle of phone and device windows.
// Windows are most-recent-last; nil entries are ticks without a reading.
type Snapshot struct {
	// NewSampleCount is the number of samples appended since the previous snapshot.
	NewSampleCount int
	Phone          []*imu.PhoneSample
	Devices        [imu.MaxDevices][]*imu.DeviceSample
}

// Builder is the fusion window builder the intake pushes samples into.
type Builder interface {
	PushPhoneSample(s *imu.PhoneSample)
	PushDeviceSample(slot int, s *imu.DeviceSample)
	// SetMaxWindow bounds retained history to the largest input window in use.
	SetMaxWindow(n int)
	DeviceCount() int
}

// DeviceSink receives samples from paired devices.
type DeviceSink interface {
	PushDeviceSample(slot int, s *imu.DeviceSample)
}

// WindowLength is the number of aligned samples available for sources.
// For several sources it is the shortest of their windows.
func (s Snapshot) WindowLength(sources imu.SensorSet) int {
	length := -1
	for _, src := range sources.Sources() {
		var n int
		if src.IsPhone() {
			n = len(s.Phone)
		} else {
			n = len(s.Devices[src.Slot()])
		}
		if length < 0 || n < length {
			length = n
		}
	}
	if length < 0 {
		return 0
	}
	return length
}

// Features builds a model input from the trailing window samples ending
// lastToEnd samples before the newest entry. Sources are laid out one after
// another: the phone first, then device slots in ascending order.
// It returns false when the windows are too short.
func (s Snapshot) Features(sources imu.SensorSet, window, lastToEnd int) ([]float32, bool) {
	if window <= 0 || lastToEnd < 0 || s.WindowLength(sources) < window+lastToEnd {
		return nil, false
	}

	out := make([]float32, 0, window*sources.FeatureWidth())
	if sources.HasPhone() {
		end := len(s.Phone) - lastToEnd
		for _, sample := range s.Phone[end-window : end] {
			out = sample.AppendFeatures(out)
		}
	}
	for _, slot := range sources.DeviceSlots() {
		win := s.Devices[slot]
		end := len(win) - lastToEnd
		for _, sample := range win[end-window : end] {
			out = sample.AppendFeatures(out)
		}
	}
	return out, true
}
