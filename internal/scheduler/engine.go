// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scheduler

import (
	"log/slog"

	"github.com/relabs-tech/competition_recorder/internal/fusion"
	"github.com/relabs-tech/competition_recorder/internal/model"
)

// modelState is the scheduler's view of one selected model.
type modelState struct {
	rt        *model.Runtime
	remaining int64
	inFlight  bool

	triggers     uint64
	events       uint64
	compensation float64

	notReadyLogged bool
}

// dispatch is an inference the engine decided to run.
type dispatch struct {
	rt    *model.Runtime
	epoch uint64
	input []float32
}

// completion is the outcome of a dispatched inference.
type completion struct {
	id    string
	epoch uint64
	out   model.Output
	err   error
}

// engine holds the trigger counters. It is not safe for concurrent use;
// the Scheduler goroutine is its only caller.
type engine struct {
	logger *slog.Logger

	models []*modelState
	byID   map[string]*modelState
	active bool
	epoch  uint64

	eventCount uint64
	stats      Stats
}

func newEngine(logger *slog.Logger) *engine {
	return &engine{logger: logger, byID: map[string]*modelState{}}
}

// begin selects the models of a new session and arms their counters.
func (e *engine) begin(runtimes []*model.Runtime) {
	e.epoch++
	e.models = e.models[:0]
	e.byID = make(map[string]*modelState, len(runtimes))
	for _, rt := range runtimes {
		if _, dup := e.byID[rt.ID()]; dup {
			e.logger.Warn("model selected twice, ignoring duplicate", slog.String("model", rt.ID()))
			continue
		}
		st := &modelState{rt: rt, remaining: int64(rt.Descriptor.InitialIntervalSamples)}
		e.models = append(e.models, st)
		e.byID[rt.ID()] = st
	}
	e.eventCount = 0
	e.active = true
}

// reset returns every counter to its initial interval, clears the session
// totals and invalidates inferences still in flight.
func (e *engine) reset() {
	e.epoch++
	for _, st := range e.models {
		st.remaining = int64(st.rt.Descriptor.InitialIntervalSamples)
		st.inFlight = false
		st.triggers = 0
		st.events = 0
		st.compensation = 0
	}
	e.eventCount = 0
	e.active = false
}

// process walks the new samples of snap in arrival order and returns the
// inferences to launch.
func (e *engine) process(snap fusion.Snapshot) []dispatch {
	if !e.active {
		return nil
	}
	e.stats.Snapshots++

	n := snap.NewSampleCount
	var out []dispatch
	for i := 0; i < n; i++ {
		lastToEnd := n - i - 1
		for _, st := range e.models {
			st.remaining--
			if st.remaining > 0 {
				continue
			}
			// stays at zero until a dispatch completes
			st.remaining = 0

			if !st.rt.Ready() {
				if !st.notReadyLogged {
					st.notReadyLogged = true
					e.logger.Warn("model not loaded, never scheduled",
						slog.String("model", st.rt.ID()), slog.Any("error", st.rt.LoadErr()))
				}
				continue
			}

			e.stats.Triggers++
			sources := st.rt.Sources()
			window := st.rt.Descriptor.InputWindowSamples
			if snap.WindowLength(sources)-lastToEnd < window {
				e.stats.InsufficientHistory++
				continue
			}
			if st.inFlight {
				e.stats.InFlightDropped++
				continue
			}
			input, ok := snap.Features(sources, window, lastToEnd)
			if !ok {
				e.stats.InsufficientHistory++
				continue
			}

			st.inFlight = true
			st.triggers++
			e.stats.Dispatched++
			out = append(out, dispatch{rt: st.rt, epoch: e.epoch, input: input})
		}
	}
	return out
}

// complete applies an inference result to its model.
func (e *engine) complete(c completion) {
	st, ok := e.byID[c.id]
	if !ok || c.epoch != e.epoch {
		e.stats.StaleDiscarded++
		return
	}
	st.inFlight = false

	if c.err != nil {
		e.stats.Failed++
		st.remaining = int64(st.rt.Descriptor.InitialIntervalSamples)
		e.logger.Warn("inference failed", slog.String("model", c.id), slog.Any("error", c.err))
		return
	}

	st.remaining = st.rt.NextInterval(c.out)
	switch c.out.Kind {
	case model.OutputBool:
		if c.out.Bool {
			st.events++
			e.eventCount++
			st.compensation += st.rt.Compensation
		}
	case model.OutputInt:
		if c.out.Int > 0 {
			st.compensation += float64(c.out.Int) * st.rt.Compensation
		}
	}
}

func (e *engine) totals() Totals {
	t := Totals{
		Active:              e.active,
		PredictedEventCount: e.eventCount,
		Stats:               e.stats,
		Models:              make([]ModelTotals, 0, len(e.models)),
	}
	for _, st := range e.models {
		t.CompensationSeconds += st.compensation
		t.Models = append(t.Models, ModelTotals{
			ID:           st.rt.ID(),
			Ready:        st.rt.Ready(),
			Remaining:    st.remaining,
			InFlight:     st.inFlight,
			Triggers:     st.triggers,
			Events:       st.events,
			Compensation: st.compensation,
		})
	}
	return t
}
