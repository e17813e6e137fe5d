// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import (
	"sync"

	"github.com/relabs-tech/competition_recorder/internal/imu"
)

// RingBuilder is a minimal Builder: it keeps bounded, tick-aligned history and
// emits one snapshot per phone sample. Each device window gets the latest
// sample received since the previous phone tick, or nil if none arrived.
type RingBuilder struct {
	mu        sync.Mutex
	maxWindow int
	phone     []*imu.PhoneSample
	devices   [imu.MaxDevices][]*imu.DeviceSample
	latest    [imu.MaxDevices]*imu.DeviceSample
	seen      [imu.MaxDevices]bool
	onSnap    func(Snapshot)
}

// NewRingBuilder creates a builder that calls onSnapshot once per phone
// sample. onSnapshot runs on the sampling goroutine without the builder lock
// held, so it may block without stalling device pushes. Phone samples must
// come from a single goroutine to keep snapshots in push order.
func NewRingBuilder(onSnapshot func(Snapshot)) *RingBuilder {
	return &RingBuilder{maxWindow: 1, onSnap: onSnapshot}
}

// SetMaxWindow implements Builder.
func (b *RingBuilder) SetMaxWindow(n int) {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxWindow = n
	b.phone = trim(b.phone, n)
	for slot := range b.devices {
		b.devices[slot] = trim(b.devices[slot], n)
	}
}

// Reset drops all history.
func (b *RingBuilder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.phone = nil
	b.devices = [imu.MaxDevices][]*imu.DeviceSample{}
	b.latest = [imu.MaxDevices]*imu.DeviceSample{}
	b.seen = [imu.MaxDevices]bool{}
}

// PushDeviceSample implements Builder. Out-of-range slots are ignored.
func (b *RingBuilder) PushDeviceSample(slot int, s *imu.DeviceSample) {
	if slot < 0 || slot >= imu.MaxDevices {
		return
	}
	b.mu.Lock()
	b.latest[slot] = s
	b.seen[slot] = true
	b.mu.Unlock()
}

// PushPhoneSample implements Builder. s may be nil for a tick without a reading.
func (b *RingBuilder) PushPhoneSample(s *imu.PhoneSample) {
	b.mu.Lock()
	b.phone = trim(append(b.phone, s), b.maxWindow)
	for slot := range b.devices {
		b.devices[slot] = trim(append(b.devices[slot], b.latest[slot]), b.maxWindow)
		b.latest[slot] = nil
	}

	onSnap := b.onSnap
	if onSnap == nil {
		b.mu.Unlock()
		return
	}
	snap := Snapshot{NewSampleCount: 1, Phone: append([]*imu.PhoneSample(nil), b.phone...)}
	for slot := range b.devices {
		snap.Devices[slot] = append([]*imu.DeviceSample(nil), b.devices[slot]...)
	}
	b.mu.Unlock()

	onSnap(snap)
}

// DeviceCount implements Builder: the number of slots that delivered any sample.
func (b *RingBuilder) DeviceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ok := range b.seen {
		if ok {
			n++
		}
	}
	return n
}

func trim[T any](win []T, n int) []T {
	if len(win) <= n {
		return win
	}
	return append(win[:0:0], win[len(win)-n:]...)
}
