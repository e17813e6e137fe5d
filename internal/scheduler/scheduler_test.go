package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/competition_recorder/internal/model"
)

// gatedPredictor blocks every inference until release is closed.
type gatedPredictor struct {
	release chan struct{}
	started chan struct{}
}

func (p *gatedPredictor) Predict(ctx context.Context, _ []float32) (model.Output, error) {
	p.started <- struct{}{}
	select {
	case <-p.release:
		return model.BoolOutput(true), nil
	case <-ctx.Done():
		return model.Output{}, ctx.Err()
	}
}

func (p *gatedPredictor) AdjustInterval(model.Output) int64 { return 1 }

func startScheduler(t *testing.T) *Scheduler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(discardLogger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func waitTotals(t *testing.T, s *Scheduler, cond func(Totals) bool) Totals {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		totals, err := s.Totals(context.Background())
		if err != nil {
			t.Fatalf("totals: %v", err)
		}
		if cond(totals) {
			return totals
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached, last totals %+v", totals)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerCountsPositiveResults(t *testing.T) {
	s := startScheduler(t)
	d := phoneModel("jump", 2, 1)
	d.Compensation = 2
	rt := model.NewRuntime(d, fixedPredictor{out: model.BoolOutput(true)}, nil)
	if err := s.Begin(context.Background(), []*model.Runtime{rt}); err != nil {
		t.Fatalf("begin: %v", err)
	}

	for k := 1; k <= 5; k++ {
		s.Submit(phoneSnapshot(k, 1))
		want := uint64(0)
		if k >= 2 {
			want = uint64(k - 1)
		}
		waitTotals(t, s, func(tt Totals) bool {
			m, _ := tt.Model("jump")
			return tt.PredictedEventCount == want && !m.InFlight
		})
	}

	totals := waitTotals(t, s, func(Totals) bool { return true })
	if totals.CompensationSeconds != 8 {
		t.Fatalf("compensation = %v, want 8", totals.CompensationSeconds)
	}
	if !totals.Active {
		t.Fatalf("scheduler should be active")
	}
}

func TestSchedulerResetDiscardsInFlightResult(t *testing.T) {
	s := startScheduler(t)
	p := &gatedPredictor{release: make(chan struct{}), started: make(chan struct{}, 1)}
	rt := model.NewRuntime(phoneModel("jump", 1, 3), p, nil)
	if err := s.Begin(context.Background(), []*model.Runtime{rt}); err != nil {
		t.Fatalf("begin: %v", err)
	}

	s.Submit(phoneSnapshot(5, 3))
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("inference never started")
	}

	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	close(p.release)

	totals := waitTotals(t, s, func(tt Totals) bool { return tt.Stats.StaleDiscarded == 1 })
	m, _ := totals.Model("jump")
	if totals.PredictedEventCount != 0 || m.Remaining != 3 || m.InFlight {
		t.Fatalf("state after reset = %+v", totals)
	}

	// Reset twice leaves the same state.
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	again, _ := s.Totals(context.Background())
	if again.PredictedEventCount != 0 || again.Models[0].Remaining != 3 || again.Active {
		t.Fatalf("state after second reset = %+v", again)
	}
}

func TestSchedulerRequestsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(discardLogger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	cancel()
	<-done

	if err := s.Reset(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	// Submit must not block once the scheduler has stopped.
	s.Submit(phoneSnapshot(1, 1))
}

func TestSchedulerRequestHonoursContext(t *testing.T) {
	s := New(discardLogger())
	for i := 0; i < InboxSize; i++ {
		s.inbox <- phoneSnapshot(1, 1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Totals(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSchedulerFinishHandsOffTotalsAndResets(t *testing.T) {
	s := startScheduler(t)
	rt := model.NewRuntime(phoneModel("jump", 1, 1), fixedPredictor{out: model.BoolOutput(true)}, nil)
	if err := s.Begin(context.Background(), []*model.Runtime{rt}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.Submit(phoneSnapshot(1, 1))
	waitTotals(t, s, func(tt Totals) bool { return tt.PredictedEventCount == 1 })

	final, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if final.PredictedEventCount != 1 || !final.Active || final.Models[0].Events != 1 {
		t.Fatalf("final totals = %+v", final)
	}

	after, _ := s.Totals(context.Background())
	if after.Active || after.PredictedEventCount != 0 || after.Models[0].Events != 0 {
		t.Fatalf("totals after finish = %+v", after)
	}
	// Inactive: new samples are ignored. The inbox is FIFO, so the totals
	// request is served after the snapshot.
	s.Submit(phoneSnapshot(1, 1))
	again, _ := s.Totals(context.Background())
	if again.Stats.Snapshots != 1 || again.Stats.Dispatched != 1 || again.PredictedEventCount != 0 {
		t.Fatalf("inactive scheduler processed a snapshot: %+v", again)
	}
}
