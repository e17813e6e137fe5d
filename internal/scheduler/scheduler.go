// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scheduler decides, per fusion snapshot and per selected model,
// when to run inference and applies the results.
//
// All counters live on one goroutine. Snapshots, inference completions and
// control requests reach it through a single inbox, so a reset can never
// interleave with a trigger decision.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/mdobak/go-xerrors"

	"github.com/relabs-tech/competition_recorder/internal/fusion"
	"github.com/relabs-tech/competition_recorder/internal/model"
)

// InboxSize is the number of pending messages the scheduler buffers.
const InboxSize = 256

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = xerrors.Message("scheduler stopped")

// Stats counts scheduler activity since construction.
type Stats struct {
	Snapshots           uint64 `json:"snapshots"`
	Triggers            uint64 `json:"triggers"`
	Dispatched          uint64 `json:"dispatched"`
	InsufficientHistory uint64 `json:"insufficient_history"`
	InFlightDropped     uint64 `json:"in_flight_dropped"`
	StaleDiscarded      uint64 `json:"stale_discarded"`
	Failed              uint64 `json:"failed"`
}

// ModelTotals is the per-model session state.
type ModelTotals struct {
	ID           string  `json:"id"`
	Ready        bool    `json:"ready"`
	Remaining    int64   `json:"remaining"`
	InFlight     bool    `json:"in_flight"`
	Triggers     uint64  `json:"triggers"`
	Events       uint64  `json:"events"`
	Compensation float64 `json:"compensation"`
}

// Totals is a consistent copy of the scheduler state.
type Totals struct {
	Active              bool          `json:"active"`
	PredictedEventCount uint64        `json:"predicted_event_count"`
	CompensationSeconds float64       `json:"compensation_seconds"`
	Models              []ModelTotals `json:"models"`
	Stats               Stats         `json:"stats"`
}

// Model returns the totals of model id.
func (t Totals) Model(id string) (ModelTotals, bool) {
	for _, m := range t.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelTotals{}, false
}

type request struct {
	fn    func(*engine)
	reply chan struct{}
}

// Scheduler runs the trigger engine on its own goroutine.
type Scheduler struct {
	logger *slog.Logger
	inbox  chan any
	done   chan struct{}
	eng    *engine
}

// New creates a scheduler. Call Run to start processing.
func New(logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	return &Scheduler{
		logger: logger,
		inbox:  make(chan any, InboxSize),
		done:   make(chan struct{}),
		eng:    newEngine(logger),
	}
}

// Run processes the inbox until ctx is cancelled. Inferences are launched on
// their own goroutines and report back through the inbox.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	s.logger.Info("scheduler running")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case msg := <-s.inbox:
			switch m := msg.(type) {
			case fusion.Snapshot:
				for _, d := range s.eng.process(m) {
					s.launch(ctx, d)
				}
			case completion:
				s.eng.complete(m)
			case request:
				m.fn(s.eng)
				close(m.reply)
			}
		}
	}
}

func (s *Scheduler) launch(ctx context.Context, d dispatch) {
	go func() {
		out, err := d.rt.Predict(ctx, d.input)
		select {
		case s.inbox <- completion{id: d.rt.ID(), epoch: d.epoch, out: out, err: err}:
		case <-s.done:
		}
	}()
}

// Submit queues a snapshot. It is the fusion builder's snapshot handler and
// blocks only when the inbox is full.
func (s *Scheduler) Submit(snap fusion.Snapshot) {
	select {
	case s.inbox <- snap:
	case <-s.done:
	}
}

// Begin selects the models for a new session and arms their counters at
// their initial intervals.
func (s *Scheduler) Begin(ctx context.Context, runtimes []*model.Runtime) error {
	rts := append([]*model.Runtime(nil), runtimes...)
	return s.call(ctx, func(e *engine) { e.begin(rts) })
}

// Reset stops triggering, returns every counter to its initial interval and
// clears the session totals. Results of inferences still in flight are
// discarded when they arrive.
func (s *Scheduler) Reset(ctx context.Context) error {
	return s.call(ctx, func(e *engine) { e.reset() })
}

// Finish returns the session totals and resets, as one step on the
// scheduler goroutine.
func (s *Scheduler) Finish(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.call(ctx, func(e *engine) {
		t = e.totals()
		e.reset()
	})
	if err != nil {
		return Totals{}, err
	}
	return t, nil
}

// Totals returns the current counters.
func (s *Scheduler) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	if err := s.call(ctx, func(e *engine) { t = e.totals() }); err != nil {
		return Totals{}, err
	}
	return t, nil
}

func (s *Scheduler) call(ctx context.Context, fn func(*engine)) error {
	req := request{fn: fn, reply: make(chan struct{})}
	select {
	case s.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
	select {
	case <-req.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}
