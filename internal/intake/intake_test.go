package intake

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/competition_recorder/internal/gps"
	"github.com/relabs-tech/competition_recorder/internal/imu"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingBuilder struct {
	mu        sync.Mutex
	phone     []*imu.PhoneSample
	maxWindow int
	resets    int
}

func (b *recordingBuilder) PushPhoneSample(s *imu.PhoneSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.phone = append(b.phone, s)
}
func (b *recordingBuilder) PushDeviceSample(int, *imu.DeviceSample) {}
func (b *recordingBuilder) SetMaxWindow(n int)                      { b.maxWindow = n }
func (b *recordingBuilder) DeviceCount() int                        { return 0 }
func (b *recordingBuilder) Reset()                                  { b.resets++ }

func (b *recordingBuilder) samples() []*imu.PhoneSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*imu.PhoneSample(nil), b.phone...)
}

type scriptedSource struct {
	mu    sync.Mutex
	reads int
	fail  map[int]bool
}

func (s *scriptedSource) ReadMotion() (imu.Motion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.fail[s.reads] {
		return imu.Motion{}, errors.New("spi timeout")
	}
	return imu.Motion{AccZ: 1, GyroX: float64(s.reads), Altitude: imu.NoAltitude}, nil
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	in      *Intake
	builder *recordingBuilder
	ticks   chan time.Time
	clock   *fakeClock
	stopped chan struct{}
}

func newHarness(t *testing.T, source imu.MotionSource) *harness {
	t.Helper()
	h := &harness{
		builder: &recordingBuilder{},
		ticks:   make(chan time.Time),
		clock:   &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		stopped: make(chan struct{}, 1),
	}
	h.in = New(discardLogger(), source, h.builder, Options{
		Ticker: func(time.Duration) (<-chan time.Time, func()) {
			return h.ticks, func() { h.stopped <- struct{}{} }
		},
		Now: h.clock.Now,
	})
	t.Cleanup(h.in.Stop)
	return h
}

// tick delivers one tick and waits until the loop has handled it.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	want := h.in.Stats().Ticks + 1
	h.clock.Advance(DefaultInterval)
	h.ticks <- h.clock.Now()
	deadline := time.Now().Add(2 * time.Second)
	for h.in.Stats().Ticks < want {
		if time.Now().After(deadline) {
			t.Fatalf("tick not processed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIntakePushesOneSamplePerTick(t *testing.T) {
	src := &scriptedSource{fail: map[int]bool{2: true}}
	h := newHarness(t, src)

	if err := h.in.Start(60, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.builder.maxWindow != 60 || h.builder.resets != 1 {
		t.Fatalf("builder not prepared: window=%d resets=%d", h.builder.maxWindow, h.builder.resets)
	}

	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	got := h.builder.samples()
	if len(got) != 3 {
		t.Fatalf("pushed %d samples, want 3", len(got))
	}
	if got[1] != nil {
		t.Fatalf("failed read should push a placeholder")
	}
	if got[0].GyroX != 1 || got[2].GyroX != 3 {
		t.Fatalf("samples out of order")
	}
	if got[0].Altitude != imu.NoAltitude || got[0].Speed != imu.NoSpeed {
		t.Fatalf("sentinels not applied: %+v", got[0])
	}
	if s := h.in.Stats(); s.ReadFailures != 1 || s.Ticks != 3 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestIntakeUsesRecentFix(t *testing.T) {
	h := newHarness(t, &scriptedSource{})
	if err := h.in.Start(1, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.in.SetFix(gps.Fix{Valid: true, SpeedMps: 4.2, AltitudeM: 812, HasAlt: true})
	h.tick(t)

	h.clock.Advance(fixMaxAge)
	h.tick(t)

	got := h.builder.samples()
	if got[0].Speed != 4.2 || got[0].Altitude != 812 {
		t.Fatalf("fix not applied: %+v", got[0])
	}
	if got[1].Speed != imu.NoSpeed || got[1].Altitude != imu.NoAltitude {
		t.Fatalf("stale fix applied: %+v", got[1])
	}
}

func TestIntakePhoneDisabledPushesPlaceholders(t *testing.T) {
	src := &scriptedSource{}
	h := newHarness(t, src)
	if err := h.in.Start(4, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.tick(t)
	h.tick(t)
	for _, s := range h.builder.samples() {
		if s != nil {
			t.Fatalf("phone sample pushed while phone sampling is off")
		}
	}
	if src.reads != 0 {
		t.Fatalf("motion source read %d times", src.reads)
	}
}

func TestIntakeElapsedEveryTwentyTicks(t *testing.T) {
	h := newHarness(t, &scriptedSource{})
	if err := h.in.Start(1, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < NotifyEvery-1; i++ {
		h.tick(t)
	}
	select {
	case d := <-h.in.Elapsed():
		t.Fatalf("early notification %v", d)
	default:
	}
	h.tick(t)
	select {
	case d := <-h.in.Elapsed():
		if d != time.Second {
			t.Fatalf("elapsed = %v, want 1s", d)
		}
	default:
		t.Fatalf("no notification after %d ticks", NotifyEvery)
	}

	// an unread notification never blocks the tick
	for i := 0; i < 2*NotifyEvery; i++ {
		h.tick(t)
	}
}

func TestIntakeStopIsIdempotent(t *testing.T) {
	h := newHarness(t, &scriptedSource{})
	h.in.Stop()
	if err := h.in.Start(1, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.in.Start(1, true); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
	h.in.Stop()
	h.in.Stop()
	if h.in.Running() {
		t.Fatalf("still running after stop")
	}
	select {
	case <-h.stopped:
	default:
		t.Fatalf("tick source not stopped")
	}

	if err := h.in.Start(1, true); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h.tick(t)
}
