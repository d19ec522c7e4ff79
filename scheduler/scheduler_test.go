package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
	syncengine "github.com/SpencerMonger/PropScraper-sub000/sync"
)

type fakeRunner struct {
	ran  []int
	fail map[int]bool
}

func (f *fakeRunner) RunTier(_ context.Context, level int) (*syncengine.TierResult, error) {
	f.ran = append(f.ran, level)
	if f.fail[level] {
		return &syncengine.TierResult{TierLevel: level}, fmt.Errorf("tier %d boom", level)
	}
	return &syncengine.TierResult{TierLevel: level}, nil
}

func testScheduler(t *testing.T, runner *fakeRunner) (*Scheduler, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	cfg := &config.Config{
		Tiers: map[int]*config.TierConfig{
			1: {Level: 1, Name: "Hot Listings", FrequencyHours: 6},
			2: {Level: 2, Name: "Daily Sync", FrequencyHours: 24},
			3: {Level: 3, Name: "Weekly Deep", FrequencyHours: 168},
			4: {Level: 4, Name: "Monthly Refresh", FrequencyHours: 720},
		},
	}
	return New(store, runner, cfg), store
}

func recordRun(t *testing.T, store *storage.SQLiteStore, level int, startedAt time.Time, status models.RunStatus) {
	t.Helper()
	ctx := context.Background()
	run := &models.SyncRun{TierLevel: level, TierName: "t", Status: status, StartedAt: startedAt}
	if err := store.CreateSyncRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if status != models.RunStatusRunning {
		done := startedAt.Add(time.Minute)
		run.CompletedAt = &done
		if err := store.UpdateSyncRun(ctx, run); err != nil {
			t.Fatalf("update run: %v", err)
		}
	}
}

func TestShouldRun_NeverRun(t *testing.T) {
	sched, _ := testScheduler(t, &fakeRunner{})
	due, err := sched.ShouldRun(context.Background(), 1)
	if err != nil {
		t.Fatalf("should run: %v", err)
	}
	if !due {
		t.Fatalf("tier with no history must be due")
	}
}

func TestShouldRun_FrequencyElapsed(t *testing.T) {
	sched, store := testScheduler(t, &fakeRunner{})
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	recordRun(t, store, 1, base.Add(-7*time.Hour), models.RunStatusCompleted)
	recordRun(t, store, 2, base.Add(-2*time.Hour), models.RunStatusCompleted)

	due, err := sched.ShouldRun(context.Background(), 1)
	if err != nil || !due {
		t.Fatalf("tier 1 last ran 7h ago with 6h frequency, want due (got %v, %v)", due, err)
	}
	due, err = sched.ShouldRun(context.Background(), 2)
	if err != nil || due {
		t.Fatalf("tier 2 last ran 2h ago with 24h frequency, want not due (got %v, %v)", due, err)
	}
}

func TestShouldRun_FailedRunDoesNotCount(t *testing.T) {
	sched, store := testScheduler(t, &fakeRunner{})
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	// Most recent run failed; the last success is old enough to be due.
	recordRun(t, store, 1, base.Add(-8*time.Hour), models.RunStatusCompleted)
	recordRun(t, store, 1, base.Add(-time.Hour), models.RunStatusFailed)

	due, err := sched.ShouldRun(context.Background(), 1)
	if err != nil || !due {
		t.Fatalf("failed run must not reset the schedule (got %v, %v)", due, err)
	}
}

func TestRunScheduled_RunsDueTiersInOrder(t *testing.T) {
	runner := &fakeRunner{}
	sched, store := testScheduler(t, runner)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	// Tiers 1 and 3 are due, 2 and 4 are fresh.
	recordRun(t, store, 1, base.Add(-10*time.Hour), models.RunStatusCompleted)
	recordRun(t, store, 2, base.Add(-time.Hour), models.RunStatusCompleted)
	recordRun(t, store, 3, base.Add(-200*time.Hour), models.RunStatusCompleted)
	recordRun(t, store, 4, base.Add(-time.Hour), models.RunStatusCompleted)

	results, err := sched.RunScheduled(context.Background())
	if err != nil {
		t.Fatalf("run scheduled: %v", err)
	}
	if len(runner.ran) != 2 || runner.ran[0] != 1 || runner.ran[1] != 3 {
		t.Fatalf("expected tiers [1 3], ran %v", runner.ran)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestRunScheduled_FailureDoesNotStopLaterTiers(t *testing.T) {
	runner := &fakeRunner{fail: map[int]bool{1: true}}
	sched, _ := testScheduler(t, runner)

	// No history: every tier is due, tier 1 fails.
	_, err := sched.RunScheduled(context.Background())
	if err != nil {
		t.Fatalf("run scheduled: %v", err)
	}
	if len(runner.ran) != 4 {
		t.Fatalf("expected all 4 tiers attempted, ran %v", runner.ran)
	}
}

func TestRunSingle_BypassesSchedule(t *testing.T) {
	runner := &fakeRunner{}
	sched, store := testScheduler(t, runner)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	// Fresh success an hour ago: the tier is not due, but a manual run
	// ignores the schedule.
	recordRun(t, store, 1, base.Add(-time.Hour), models.RunStatusCompleted)

	if _, err := sched.RunSingle(context.Background(), 1, false); err != nil {
		t.Fatalf("manual run should ignore the schedule: %v", err)
	}
	if len(runner.ran) != 1 || runner.ran[0] != 1 {
		t.Fatalf("tier not executed: %v", runner.ran)
	}

	if _, err := sched.RunSingle(context.Background(), 9, false); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}

func TestRunSingle_FailsFastWhenBusy(t *testing.T) {
	runner := &fakeRunner{}
	sched, _ := testScheduler(t, runner)

	// Simulate a tier in flight by holding the run lock.
	sched.runMu.Lock()
	if _, err := sched.RunSingle(context.Background(), 1, false); err == nil {
		t.Fatalf("expected fail-fast while another tier holds the lock")
	}
	if len(runner.ran) != 0 {
		t.Fatalf("runner should not have been called, ran %v", runner.ran)
	}
	sched.runMu.Unlock()

	// Force waits for the lock instead of failing; with the lock free it
	// runs immediately.
	if _, err := sched.RunSingle(context.Background(), 1, true); err != nil {
		t.Fatalf("forced run failed: %v", err)
	}
	if len(runner.ran) != 1 || runner.ran[0] != 1 {
		t.Fatalf("forced run not executed: %v", runner.ran)
	}
}

func TestStatus(t *testing.T) {
	sched, store := testScheduler(t, &fakeRunner{})
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	recordRun(t, store, 1, base.Add(-10*time.Hour), models.RunStatusCompleted)

	statuses, err := sched.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) != 4 {
		t.Fatalf("expected 4 tiers, got %d", len(statuses))
	}

	t1 := statuses[0]
	if t1.Level != 1 || !t1.IsDue {
		t.Fatalf("tier 1 should be due: %+v", t1)
	}
	if t1.NextRun == nil || !t1.NextRun.Equal(base.Add(-4*time.Hour)) {
		t.Fatalf("unexpected next run %v", t1.NextRun)
	}
	if !statuses[1].IsDue {
		t.Fatalf("tier with no history should report due")
	}
}
