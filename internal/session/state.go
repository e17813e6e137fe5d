// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"fmt"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/relabs-tech/competition_recorder/internal/scheduler"
)

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StateIdle
	case "armed":
		*s = StateArmed
	case "recording":
		*s = StateRecording
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

var (
	// ErrPermissionDenied is wrapped by every *PermissionError.
	ErrPermissionDenied = xerrors.Message("permission denied")
	// ErrAlreadyRecording is returned by Start and Arm during a recording.
	ErrAlreadyRecording = xerrors.Message("session already recording")
)

// Permission reasons.
const (
	ReasonLocation   = "location_always"
	ReasonMicrophone = "microphone"
)

// PermissionError names the permission that blocked Start.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// Stop reasons recorded with a Result.
const (
	StopManual   = "manual"
	StopGeofence = "geofence"
	StopShutdown = "shutdown"
)

// Status is a point-in-time view of the controller.
type Status struct {
	SessionID           string                  `json:"session_id,omitempty"`
	State               State                   `json:"state"`
	StartTime           *time.Time              `json:"start_time,omitempty"`
	ElapsedSeconds      float64                 `json:"elapsed_seconds"`
	CompensationSeconds float64                 `json:"compensation_seconds"`
	PredictedEventCount uint64                  `json:"predicted_event_count"`
	MayStart            bool                    `json:"may_start"`
	Models              []scheduler.ModelTotals `json:"models,omitempty"`
}

// Result is what a finished recording hands to the result sink.
type Result struct {
	SessionID           string                  `json:"session_id"`
	StartTime           time.Time               `json:"start_time"`
	EndTime             time.Time               `json:"end_time"`
	ElapsedSeconds      float64                 `json:"elapsed_seconds"`
	PredictedEventCount uint64                  `json:"predicted_event_count"`
	CompensationSeconds float64                 `json:"compensation_seconds"`
	StopReason          string                  `json:"stop_reason"`
	Models              []scheduler.ModelTotals `json:"models"`
}
