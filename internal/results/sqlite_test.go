package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/relabs-tech/competition_recorder/internal/scheduler"
	"github.com/relabs-tech/competition_recorder/internal/session"
)

func TestStoreSaveAndRecent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "db", "results.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second"} {
		r := session.Result{
			SessionID:           id,
			StartTime:           base.Add(time.Duration(i) * time.Hour),
			EndTime:             base.Add(time.Duration(i)*time.Hour + 90*time.Second),
			ElapsedSeconds:      90,
			PredictedEventCount: uint64(3 + i),
			CompensationSeconds: 1.5,
			StopReason:          session.StopGeofence,
			Models: []scheduler.ModelTotals{
				{ID: "spin", Triggers: 10, Events: 1, Compensation: 0.5},
				{ID: "jump", Triggers: 40, Events: 2, Compensation: 1},
			},
		}
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "second" {
		t.Fatalf("recent = %+v", got)
	}
	r := got[0]
	if r.PredictedEventCount != 4 || r.StopReason != session.StopGeofence || !r.StartTime.Equal(base.Add(time.Hour)) {
		t.Fatalf("result = %+v", r)
	}
	if len(r.Models) != 2 || r.Models[0].ID != "jump" || r.Models[0].Events != 2 {
		t.Fatalf("models = %+v", r.Models)
	}
}

func TestStoreRejectsDuplicateSession(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	r := session.Result{SessionID: "dup", StartTime: time.Now(), EndTime: time.Now(), StopReason: session.StopManual,
		Models: []scheduler.ModelTotals{{ID: "m"}}}
	if err := store.Save(context.Background(), r); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(context.Background(), r); err == nil {
		t.Fatalf("expected duplicate error")
	}
	got, _ := store.Recent(context.Background(), 10)
	if len(got) != 1 || len(got[0].Models) != 1 {
		t.Fatalf("failed save left partial rows: %+v", got)
	}
}
