// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package model

import (
	"context"
	"fmt"

	"github.com/relabs-tech/competition_recorder/internal/imu"
)

// Output is the result of one inference: exactly one of Bool or Int is meaningful, per Kind.
type Output struct {
	Kind OutputKind
	Bool bool
	Int  int64
}

// BoolOutput returns a boolean result.
func BoolOutput(v bool) Output { return Output{Kind: OutputBool, Bool: v} }

// IntOutput returns an integer result.
func IntOutput(v int64) Output { return Output{Kind: OutputInt, Int: v} }

// Positive reports a hit: true for bool models, a value above zero for int models.
func (o Output) Positive() bool {
	if o.Kind == OutputBool {
		return o.Bool
	}
	return o.Int > 0
}

func (o Output) String() string {
	if o.Kind == OutputBool {
		return fmt.Sprintf("bool(%t)", o.Bool)
	}
	return fmt.Sprintf("int(%d)", o.Int)
}

// Predictor is a compiled model.
type Predictor interface {
	Predict(ctx context.Context, input []float32) (Output, error)
	// AdjustInterval returns the number of samples to wait before the next
	// trigger given the latest result.
	AdjustInterval(last Output) int64
}

// Runtime is a model selected for a session: its descriptor plus the loaded
// predictor, or the reason it could not be loaded.
type Runtime struct {
	Descriptor   Descriptor
	Compensation float64

	predictor Predictor
	loadErr   error
}

// NewRuntime wraps a predictor. A nil predictor or a non-nil loadErr yields a
// runtime that never predicts.
func NewRuntime(d Descriptor, p Predictor, loadErr error) *Runtime {
	if p == nil && loadErr == nil {
		loadErr = fmt.Errorf("%w: %s: no predictor", ErrModelLoadFailed, d.ID)
	}
	return &Runtime{Descriptor: d, Compensation: d.Compensation, predictor: p, loadErr: loadErr}
}

// ID is the model id.
func (r *Runtime) ID() string { return r.Descriptor.ID }

// Sources returns the sensor sources of the model.
func (r *Runtime) Sources() imu.SensorSet { return r.Descriptor.Sources() }

// Ready reports whether the artifact loaded.
func (r *Runtime) Ready() bool { return r.loadErr == nil }

// LoadErr returns the load failure, if any.
func (r *Runtime) LoadErr() error { return r.loadErr }

// Predict runs inference. The result kind must match the descriptor.
func (r *Runtime) Predict(ctx context.Context, input []float32) (Output, error) {
	if r.loadErr != nil {
		return Output{}, r.loadErr
	}
	out, err := r.predictor.Predict(ctx, input)
	if err != nil {
		return Output{}, err
	}
	if out.Kind != r.Descriptor.OutputKind {
		return Output{}, fmt.Errorf("model %s: produced %s, descriptor declares %s", r.ID(), out.Kind, r.Descriptor.OutputKind)
	}
	return out, nil
}

// NextInterval is the trigger spacing after out: the model's own rule when
// adaptive, otherwise the descriptor's initial interval.
func (r *Runtime) NextInterval(out Output) int64 {
	if r.Descriptor.AdaptiveInterval && r.predictor != nil {
		return r.predictor.AdjustInterval(out)
	}
	return int64(r.Descriptor.InitialIntervalSamples)
}
