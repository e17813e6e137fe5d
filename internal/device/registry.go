// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package device manages the paired sensor devices that feed the fusion
// builder, one per slot 0..4.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/relabs-tech/competition_recorder/internal/imu"
)

// ErrNotConnected is returned when collection is started on a device whose
// connection is down.
var ErrNotConnected = xerrors.Message("device not connected")

// Device is one paired sensor device.
type Device interface {
	// Connect reports whether the device is reachable. It is idempotent and
	// never fails; callers poll it.
	Connect() bool
	// StartCollection begins streaming samples. Only valid after Connect.
	StartCollection() error
	StopCollection()
}

// RetryPolicy controls how connection attempts are repeated.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int // 0 = until deactivated
}

// DefaultRetryPolicy polls once a second until deactivated.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: time.Second}
}

// run is one activation of a slot.
type run struct {
	cancel     context.CancelFunc
	done       chan struct{}
	collecting bool
}

// Registry owns the devices of slots 0..4 and at most one collection per slot.
type Registry struct {
	logger *slog.Logger
	policy RetryPolicy

	mu      sync.Mutex
	devices [imu.MaxDevices]Device
	runs    [imu.MaxDevices]*run
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, policy RetryPolicy) *Registry {
	if policy.Interval <= 0 {
		policy.Interval = DefaultRetryPolicy().Interval
	}
	return &Registry{logger: logger.With("component", "devices"), policy: policy}
}

// Register places d in slot. A slot cannot be replaced while it is active.
func (r *Registry) Register(slot int, d Device) error {
	if slot < 0 || slot >= imu.MaxDevices {
		return fmt.Errorf("device slot %d out of range", slot)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[slot] != nil {
		return fmt.Errorf("device slot %d is active", slot)
	}
	r.devices[slot] = d
	return nil
}

// Registered returns the populated slots.
func (r *Registry) Registered() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var slots []int
	for slot, d := range r.devices {
		if d != nil {
			slots = append(slots, slot)
		}
	}
	return slots
}

// Activate starts connecting and collecting on every device slot in set.
// Slots outside set are left alone; slots already active are not started
// twice. It returns immediately; connection is polled in the background.
func (r *Registry) Activate(set imu.SensorSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range set.DeviceSlots() {
		d := r.devices[slot]
		if d == nil {
			r.logger.Warn("no device registered for slot", slog.Int("slot", slot))
			continue
		}
		if r.runs[slot] != nil {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		ru := &run{cancel: cancel, done: make(chan struct{})}
		r.runs[slot] = ru
		go r.connectAndCollect(ctx, slot, d, ru)
	}
}

func (r *Registry) connectAndCollect(ctx context.Context, slot int, d Device, ru *run) {
	defer close(ru.done)
	log := r.logger.With(slog.Int("slot", slot))

	ticker := time.NewTicker(r.policy.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if d.Connect() {
			err := d.StartCollection()
			if err == nil {
				r.mu.Lock()
				ru.collecting = true
				r.mu.Unlock()
				log.Info("device collecting", slog.Int("attempt", attempt))
				return
			}
			log.Warn("start collection failed", slog.Any("error", err))
		} else {
			log.Debug("device not connected yet", slog.Int("attempt", attempt))
		}

		if r.policy.MaxAttempts > 0 && attempt >= r.policy.MaxAttempts {
			log.Error("giving up on device", slog.Any("error", ErrNotConnected), slog.Int("attempts", attempt))
			// a later Activate may try again
			r.mu.Lock()
			if r.runs[slot] == ru {
				r.runs[slot] = nil
			}
			r.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Deactivate cancels pending connections and stops every active
// collection. It returns once all of them have stopped.
func (r *Registry) Deactivate() {
	r.mu.Lock()
	runs := r.runs
	devices := r.devices
	r.runs = [imu.MaxDevices]*run{}
	r.mu.Unlock()

	for slot, ru := range runs {
		if ru == nil {
			continue
		}
		ru.cancel()
		<-ru.done

		r.mu.Lock()
		collecting := ru.collecting
		r.mu.Unlock()
		if collecting {
			devices[slot].StopCollection()
			r.logger.Info("device stopped", slog.Int("slot", slot))
		}
	}
}

// Active returns the slots currently collecting.
func (r *Registry) Active() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var slots []int
	for slot, ru := range r.runs {
		if ru != nil && ru.collecting {
			slots = append(slots, slot)
		}
	}
	return slots
}
