// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// BundleExt is the file extension of cached model artifacts.
const BundleExt = "model"

const linearFormat = "linear/v1"

// linearBundle is the on-disk form of a linear scoring model.
type linearBundle struct {
	Format    string     `json:"format"`
	Output    OutputKind `json:"output"`
	Weights   []float32  `json:"weights"`
	Bias      float32    `json:"bias"`
	Threshold float64    `json:"threshold"` // bool models: sigmoid(score) >= threshold

	IntervalAfterHit  int64 `json:"intervalAfterHit"`
	IntervalAfterMiss int64 `json:"intervalAfterMiss"`
}

type linearModel struct {
	b linearBundle
}

// OpenLinear compiles a linear/v1 bundle.
func OpenLinear(path string) (Predictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b linearBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Format != linearFormat {
		return nil, fmt.Errorf("unsupported bundle format %q", b.Format)
	}
	if len(b.Weights) == 0 {
		return nil, fmt.Errorf("bundle has no weights")
	}
	if b.Output != OutputBool && b.Output != OutputInt {
		return nil, fmt.Errorf("bundle has no output kind")
	}
	if b.Threshold == 0 {
		b.Threshold = 0.5
	}
	return &linearModel{b: b}, nil
}

func (m *linearModel) Predict(ctx context.Context, input []float32) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if len(input) != len(m.b.Weights) {
		return Output{}, fmt.Errorf("input has %d features, model expects %d", len(input), len(m.b.Weights))
	}

	score := float64(m.b.Bias)
	for i, w := range m.b.Weights {
		score += float64(w) * float64(input[i])
	}

	if m.b.Output == OutputBool {
		p := 1 / (1 + math.Exp(-score))
		return BoolOutput(p >= m.b.Threshold), nil
	}
	return IntOutput(int64(math.Max(0, math.Round(score)))), nil
}

func (m *linearModel) AdjustInterval(last Output) int64 {
	if last.Positive() {
		return m.b.IntervalAfterHit
	}
	return m.b.IntervalAfterMiss
}
