// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package intake samples the on-device motion sensors at a fixed cadence
// and pushes one phone sample per tick into the fusion builder.
package intake

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/relabs-tech/competition_recorder/internal/fusion"
	"github.com/relabs-tech/competition_recorder/internal/gps"
	"github.com/relabs-tech/competition_recorder/internal/imu"
)

const (
	// DefaultInterval is the sampling period.
	DefaultInterval = 50 * time.Millisecond
	// NotifyEvery is the number of ticks between elapsed-time notifications.
	NotifyEvery = 20
	// fixMaxAge is how long a location fix is used for speed and altitude.
	fixMaxAge = 5 * time.Second
)

// ErrRunning is returned by Start while sampling is already running.
var ErrRunning = xerrors.Message("intake already running")

// TickerFunc creates a tick source and its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Options configures an Intake.
type Options struct {
	Interval time.Duration
	// Audio marks samples as taken while audio capture is enabled.
	Audio bool
	// Ticker and Now replace the clock in tests.
	Ticker TickerFunc
	Now    func() time.Time
}

// Stats counts intake activity since construction.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Overruns     uint64 `json:"overruns"`
	ReadFailures uint64 `json:"read_failures"`
}

// Intake drives the sampling tick.
type Intake struct {
	logger   *slog.Logger
	source   imu.MotionSource
	builder  fusion.Builder
	interval time.Duration
	audio    bool
	ticker   TickerFunc
	now      func() time.Time

	elapsed chan time.Duration

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	phone     bool
	fix       gps.Fix
	fixAt     time.Time
	fixLoaded bool

	ticks        atomic.Uint64
	overruns     atomic.Uint64
	readFailures atomic.Uint64
}

// New creates an intake reading source and feeding builder. A nil source
// yields placeholder samples only.
func New(logger *slog.Logger, source imu.MotionSource, builder fusion.Builder, opts Options) *Intake {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Ticker == nil {
		opts.Ticker = realTicker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Intake{
		logger:   logger.With("component", "intake"),
		source:   source,
		builder:  builder,
		interval: opts.Interval,
		audio:    opts.Audio,
		ticker:   opts.Ticker,
		now:      opts.Now,
		elapsed:  make(chan time.Duration, 1),
	}
}

// Elapsed delivers the time since Start every NotifyEvery ticks. Updates
// are dropped when the previous one has not been read.
func (in *Intake) Elapsed() <-chan time.Duration { return in.elapsed }

// Start arms the sampling tick. maxInputWindow bounds the history the
// builder retains. When phone is false every tick pushes a placeholder.
func (in *Intake) Start(maxInputWindow int, phone bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cancel != nil {
		return ErrRunning
	}

	if r, ok := in.builder.(interface{ Reset() }); ok {
		r.Reset()
	}
	in.builder.SetMaxWindow(maxInputWindow)
	in.phone = phone

	ctx, cancel := context.WithCancel(context.Background())
	ticks, stopTicker := in.ticker(in.interval)
	in.cancel = cancel
	in.done = make(chan struct{})

	go in.loop(ctx, ticks, stopTicker, in.done, in.now())

	in.logger.Info("sampling started",
		slog.Duration("interval", in.interval),
		slog.Int("max_window", maxInputWindow),
		slog.Bool("phone", phone))
	return nil
}

// Stop cancels the tick and waits for the loop to exit. It is idempotent.
func (in *Intake) Stop() {
	in.mu.Lock()
	cancel, done := in.cancel, in.done
	in.cancel, in.done = nil, nil
	in.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	in.logger.Info("sampling stopped", slog.Uint64("ticks", in.ticks.Load()))
}

// Running reports whether the tick is armed.
func (in *Intake) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cancel != nil
}

// SetFix records the latest location fix for speed and altitude.
func (in *Intake) SetFix(f gps.Fix) {
	if !f.Valid {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.fix = f
	in.fixAt = in.now()
	in.fixLoaded = true
}

// Stats returns the counters.
func (in *Intake) Stats() Stats {
	return Stats{
		Ticks:        in.ticks.Load(),
		Overruns:     in.overruns.Load(),
		ReadFailures: in.readFailures.Load(),
	}
}

func (in *Intake) loop(ctx context.Context, ticks <-chan time.Time, stopTicker func(), done chan struct{}, start time.Time) {
	defer close(done)
	defer stopTicker()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticks:
			began := in.now()
			in.tick(t)
			n++

			if n%NotifyEvery == 0 {
				select {
				case in.elapsed <- in.now().Sub(start):
				default:
				}
			}

			if took := in.now().Sub(began); took > in.interval {
				if in.overruns.Add(1)%NotifyEvery == 1 {
					in.logger.Warn("sampling tick overran its period",
						slog.Duration("took", took),
						slog.Uint64("overruns", in.overruns.Load()))
				}
			}
			in.ticks.Add(1)
		}
	}
}

// tick reads the motion sensors and pushes one phone sample.
func (in *Intake) tick(t time.Time) {
	in.mu.Lock()
	phone := in.phone
	fix, fixAt, fixLoaded := in.fix, in.fixAt, in.fixLoaded
	in.mu.Unlock()

	if !phone || in.source == nil {
		in.builder.PushPhoneSample(nil)
		return
	}

	m, err := in.source.ReadMotion()
	if err != nil {
		if in.readFailures.Add(1)%NotifyEvery == 1 {
			in.logger.Warn("motion read failed", slog.Any("error", err),
				slog.Uint64("failures", in.readFailures.Load()))
		}
		in.builder.PushPhoneSample(nil)
		return
	}

	s := &imu.PhoneSample{
		Timestamp: t,
		Altitude:  m.Altitude,
		Speed:     imu.NoSpeed,
		AccX:      m.AccX,
		AccY:      m.AccY,
		AccZ:      m.AccZ,
		GyroX:     m.GyroX,
		GyroY:     m.GyroY,
		GyroZ:     m.GyroZ,
		MagX:      m.MagX,
		MagY:      m.MagY,
		MagZ:      m.MagZ,
		HasAudio:  in.audio,
	}
	if fixLoaded && in.now().Sub(fixAt) <= fixMaxAge {
		s.Speed = fix.SpeedMps
		if s.Altitude == imu.NoAltitude && fix.HasAlt {
			s.Altitude = fix.AltitudeM
		}
	}
	in.builder.PushPhoneSample(s)
}
