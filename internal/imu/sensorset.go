// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"fmt"
	"strings"
)

// MaxDevices is the number of paired device slots.
const MaxDevices = 5

// Source identifies one sensor source: the phone itself or a device slot.
type Source uint8

// Phone is the on-device source.
const Phone Source = 0

// Device returns the source for paired device slot 0..MaxDevices-1.
func Device(slot int) Source {
	if slot < 0 || slot >= MaxDevices {
		panic(fmt.Sprintf("imu: device slot %d out of range", slot))
	}
	return Source(slot + 1)
}

// IsPhone reports whether s is the phone source.
func (s Source) IsPhone() bool { return s == Phone }

// Slot returns the device slot of s, or -1 for the phone.
func (s Source) Slot() int { return int(s) - 1 }

func (s Source) String() string {
	if s.IsPhone() {
		return "phone"
	}
	return fmt.Sprintf("device%d", s.Slot())
}

// SensorSet is a set of sources. Its wire form is the sensor location mask:
// bit 0 is the phone and bits 1..5 are device slots 0..4.
type SensorSet uint8

const allSources SensorSet = 1<<(MaxDevices+1) - 1

// SetOf builds a set from sources.
func SetOf(sources ...Source) SensorSet {
	var s SensorSet
	for _, src := range sources {
		s = s.With(src)
	}
	return s
}

// SetFromMask converts a sensor location mask, dropping bits beyond device slot 4.
func SetFromMask(mask uint8) SensorSet { return SensorSet(mask) & allSources }

// Mask returns the wire form of s.
func (s SensorSet) Mask() uint8 { return uint8(s) }

// With returns s plus src.
func (s SensorSet) With(src Source) SensorSet { return s | 1<<src }

// Has reports whether src is in s.
func (s SensorSet) Has(src Source) bool { return s&(1<<src) != 0 }

// HasPhone reports whether the phone is in s.
func (s SensorSet) HasPhone() bool { return s.Has(Phone) }

// Union returns the sources in s or o.
func (s SensorSet) Union(o SensorSet) SensorSet { return s | o }

// IsEmpty reports whether s has no sources.
func (s SensorSet) IsEmpty() bool { return s == 0 }

// Sources lists the members of s, phone first then devices in ascending slot order.
func (s SensorSet) Sources() []Source {
	var out []Source
	for src := Source(0); src <= MaxDevices; src++ {
		if s.Has(src) {
			out = append(out, src)
		}
	}
	return out
}

// DeviceSlots lists the device slots in s in ascending order.
func (s SensorSet) DeviceSlots() []int {
	var slots []int
	for slot := 0; slot < MaxDevices; slot++ {
		if s.Has(Device(slot)) {
			slots = append(slots, slot)
		}
	}
	return slots
}

// FeatureWidth is the number of features one aligned sample across s contributes.
func (s SensorSet) FeatureWidth() int {
	width := 0
	if s.HasPhone() {
		width += PhoneFeatures
	}
	return width + len(s.DeviceSlots())*DeviceFeatures
}

func (s SensorSet) String() string {
	names := make([]string, 0, MaxDevices+1)
	for _, src := range s.Sources() {
		names = append(names, src.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}
