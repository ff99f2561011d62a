package engine

import (
	"context"
	"testing"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

func TestRunnerTickAssignsCycleID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.add(t, nil)
	r, err := NewRunner(f.d, RunnerConfig{}, logx.Nop())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.now = func() time.Time { return testNow }

	var seen []CycleReport
	r.OnCycle = func(rep CycleReport) { seen = append(seen, rep) }

	rep := r.Tick(context.Background())
	if rep.CycleID == "" || rep.Fired != 1 {
		t.Fatalf("report = %+v", rep)
	}
	second := r.Tick(context.Background())
	if second.CycleID == rep.CycleID {
		t.Fatal("cycle ids must differ")
	}
	if len(seen) != 2 {
		t.Fatalf("OnCycle calls = %d", len(seen))
	}
}

func TestRunnerRunRecoversThenFires(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ob := f.add(t, func(ob *storage.Obligation) { ob.NextFireAt = storage.TimePtr(testNow.Add(-6 * time.Hour)) })

	r, _ := NewRunner(f.d, RunnerConfig{PollInterval: time.Hour, HistoryRetention: 24 * time.Hour}, logx.Nop())
	r.now = func() time.Time { return testNow }
	cycles := make(chan CycleReport, 4)
	r.OnCycle = func(rep CycleReport) { cycles <- rep }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case rep := <-cycles:
		if rep.Fired != 1 {
			t.Fatalf("first cycle = %+v", rep)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never ran")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	got := f.get(t, ob.ID)
	if got.NagCount != 1 || !got.LastFiredAt.Equal(testNow) {
		t.Fatalf("after run = %+v", got)
	}
}

func TestRunnerRejectsBadPruneSpec(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	r, _ := NewRunner(f.d, RunnerConfig{HistoryRetention: time.Hour, PruneSpec: "not a cron"}, logx.Nop())
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for invalid prune spec")
	}
}
