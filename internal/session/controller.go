// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session runs the recording state machine: permissions, device
// routing, the sampling tick, the scheduler and the geofence that ends an
// attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/competition_recorder/internal/gps"
	"github.com/relabs-tech/competition_recorder/internal/imu"
	"github.com/relabs-tech/competition_recorder/internal/model"
	"github.com/relabs-tech/competition_recorder/internal/scheduler"
)

// Permissions reports the platform authorizations Start needs.
type Permissions interface {
	LocationAlways() bool
	Microphone() bool
}

// StaticPermissions is a fixed set of authorizations.
type StaticPermissions struct {
	Location bool
	Mic      bool
}

func (p StaticPermissions) LocationAlways() bool { return p.Location }
func (p StaticPermissions) Microphone() bool     { return p.Mic }

// Sampler is the sampling tick.
type Sampler interface {
	Start(maxInputWindow int, phone bool) error
	Stop()
}

// Devices activates paired devices by sensor source.
type Devices interface {
	Activate(set imu.SensorSet)
	Deactivate()
}

// Scheduler runs the prediction triggers.
type Scheduler interface {
	Begin(ctx context.Context, runtimes []*model.Runtime) error
	Finish(ctx context.Context) (scheduler.Totals, error)
	Totals(ctx context.Context) (scheduler.Totals, error)
}

// ResultSink receives the totals of each finished recording.
type ResultSink interface {
	Save(ctx context.Context, r Result) error
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Permissions Permissions
	Sampler     Sampler
	Devices     Devices
	Scheduler   Scheduler
	Results     ResultSink // optional

	// Now and NewID replace the clock and session ids in tests.
	Now   func() time.Time
	NewID func() string
}

// Controller owns one recording at a time. Its methods are serialized, so a
// stop can never interleave with a start.
type Controller struct {
	logger *slog.Logger
	deps   Deps

	mu        sync.Mutex
	state     State
	zones     bool
	start     gps.Zone
	end       gps.Zone
	mayStart  bool
	runtimes  []*model.Runtime
	sessionID string
	startTime time.Time
	elapsed   time.Duration
	observers []func(Status)
}

// NewController creates an idle controller.
func NewController(logger *slog.Logger, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Controller{logger: logger.With("component", "session"), deps: deps}
}

// Observe registers fn to receive the status after every change. fn runs
// with the controller locked and must not call back into it.
func (c *Controller) Observe(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// SelectModels sets the models of the next recording.
func (c *Controller) SelectModels(runtimes []*model.Runtime) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRecording {
		return ErrAlreadyRecording
	}
	c.runtimes = append([]*model.Runtime(nil), runtimes...)
	return nil
}

// Arm sets the start and end zones. Location updates then report whether
// the user may start.
func (c *Controller) Arm(ctx context.Context, start, end gps.Zone) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRecording {
		return ErrAlreadyRecording
	}
	c.start, c.end, c.zones = start, end, true
	c.mayStart = false
	c.state = StateArmed
	c.logger.Info("session armed",
		slog.Float64("start_radius_m", start.RadiusMeters),
		slog.Float64("end_radius_m", end.RadiusMeters))
	c.notifyLocked(ctx)
	return nil
}

// Start begins a recording. It fails with a *PermissionError when an
// authorization is missing and with ErrAlreadyRecording during a recording.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRecording {
		return ErrAlreadyRecording
	}
	if !c.deps.Permissions.LocationAlways() {
		return &PermissionError{Reason: ReasonLocation}
	}
	if !c.deps.Permissions.Microphone() {
		return &PermissionError{Reason: ReasonMicrophone}
	}

	var sources imu.SensorSet
	maxWindow := 1
	for _, rt := range c.runtimes {
		sources = sources.Union(rt.Sources())
		maxWindow = max(maxWindow, rt.Descriptor.InputWindowSamples)
	}

	if err := c.deps.Scheduler.Begin(ctx, c.runtimes); err != nil {
		return fmt.Errorf("begin scheduler: %w", err)
	}
	c.deps.Devices.Activate(sources)
	if err := c.deps.Sampler.Start(maxWindow, sources.HasPhone()); err != nil {
		c.deps.Devices.Deactivate()
		_, resetErr := c.deps.Scheduler.Finish(ctx)
		return errors.Join(fmt.Errorf("start sampling: %w", err), resetErr)
	}

	c.state = StateRecording
	c.sessionID = c.deps.NewID()
	c.startTime = c.deps.Now()
	c.elapsed = 0

	c.logger.Info("recording started",
		slog.String("session", c.sessionID),
		slog.String("sources", sources.String()),
		slog.Int("models", len(c.runtimes)),
		slog.Int("max_window", maxWindow))
	c.notifyLocked(ctx)
	return nil
}

// Stop ends the recording. It is a no-op unless recording.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx, StopManual)
}

// StopWithReason is Stop with the reason recorded in the result.
func (c *Controller) StopWithReason(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx, reason)
}

func (c *Controller) stopLocked(ctx context.Context, reason string) error {
	if c.state != StateRecording {
		return nil
	}

	c.deps.Sampler.Stop()
	c.deps.Devices.Deactivate()
	totals, schedErr := c.deps.Scheduler.Finish(ctx)

	end := c.deps.Now()
	result := Result{
		SessionID:           c.sessionID,
		StartTime:           c.startTime,
		EndTime:             end,
		ElapsedSeconds:      end.Sub(c.startTime).Seconds(),
		PredictedEventCount: totals.PredictedEventCount,
		CompensationSeconds: totals.CompensationSeconds,
		StopReason:          reason,
		Models:              totals.Models,
	}

	// zones persist across recordings
	c.state = StateIdle
	c.mayStart = false
	c.elapsed = 0
	c.sessionID = ""
	c.startTime = time.Time{}

	c.logger.Info("recording stopped",
		slog.String("session", result.SessionID),
		slog.String("reason", reason),
		slog.Float64("elapsed_s", result.ElapsedSeconds),
		slog.Uint64("events", result.PredictedEventCount))
	if schedErr != nil {
		c.logger.Error("scheduler totals unavailable", slog.Any("error", schedErr))
	}

	var sinkErr error
	if c.deps.Results != nil {
		if sinkErr = c.deps.Results.Save(ctx, result); sinkErr != nil {
			c.logger.Error("saving result failed", slog.String("session", result.SessionID), slog.Any("error", sinkErr))
		}
	}
	c.notifyLocked(ctx)
	return errors.Join(schedErr, sinkErr)
}

// OnLocation evaluates the geofence. Outside a recording it updates
// MayStart; while recording it stops once the end zone is reached.
func (c *Controller) OnLocation(ctx context.Context, pos gps.Coordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.zones {
		return
	}

	switch c.state {
	case StateIdle, StateArmed:
		may := c.start.Contains(pos)
		if may != c.mayStart {
			c.mayStart = may
			c.notifyLocked(ctx)
		}
	case StateRecording:
		if c.end.Contains(pos) {
			c.logger.Info("end zone reached",
				slog.Float64("distance_m", gps.DistanceMeters(pos, c.end.Center)))
			if err := c.stopLocked(ctx, StopGeofence); err != nil {
				c.logger.Error("geofence stop failed", slog.Any("error", err))
			}
		}
	}
}

// OnElapsed records the elapsed time reported by the sampling tick.
func (c *Controller) OnElapsed(ctx context.Context, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return
	}
	c.elapsed = d
	c.notifyLocked(ctx)
}

// Status returns the current view, including the scheduler totals.
func (c *Controller) Status(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(ctx)
}

// State returns the state without querying the scheduler.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) statusLocked(ctx context.Context) Status {
	st := Status{
		SessionID:      c.sessionID,
		State:          c.state,
		ElapsedSeconds: c.elapsed.Seconds(),
		MayStart:       c.mayStart,
	}
	if c.state != StateRecording {
		return st
	}
	start := c.startTime
	st.StartTime = &start
	totals, err := c.deps.Scheduler.Totals(ctx)
	if err != nil {
		c.logger.Warn("scheduler totals unavailable", slog.Any("error", err))
		return st
	}
	st.PredictedEventCount = totals.PredictedEventCount
	st.CompensationSeconds = totals.CompensationSeconds
	st.Models = totals.Models
	return st
}

func (c *Controller) notifyLocked(ctx context.Context) {
	if len(c.observers) == 0 {
		return
	}
	st := c.statusLocked(ctx)
	for _, fn := range c.observers {
		fn(st)
	}
}
