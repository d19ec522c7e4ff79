package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
	syncengine "github.com/SpencerMonger/PropScraper-sub000/sync"
)

// TierRunner executes one tier. Satisfied by sync.TierOrchestrator.
type TierRunner interface {
	RunTier(ctx context.Context, level int) (*syncengine.TierResult, error)
}

// TierStatus is one row of the status report.
type TierStatus struct {
	Level       int
	Name        string
	Frequency   time.Duration
	LastRun     *time.Time
	LastSuccess *time.Time
	NextRun     *time.Time
	IsDue       bool
	IsRunning   bool
}

// Scheduler decides which tiers are due and runs them one at a time. The
// mutex is the whole concurrency model: tiers never overlap, so the diff
// detector always sees a quiet manifest.
type Scheduler struct {
	store  storage.Store
	runner TierRunner
	cfg    *config.Config

	// runMu serializes tier execution; stateMu only guards the flags so
	// Status never waits on a running tier.
	runMu   sync.Mutex
	stateMu sync.Mutex
	running bool
	current int

	now func() time.Time
}

func New(store storage.Store, runner TierRunner, cfg *config.Config) *Scheduler {
	return &Scheduler{
		store:  store,
		runner: runner,
		cfg:    cfg,
		now:    time.Now,
	}
}

// ShouldRun reports whether a tier is due: never run successfully, or the
// configured frequency has elapsed since the last success.
func (s *Scheduler) ShouldRun(ctx context.Context, level int) (bool, error) {
	tier, err := s.cfg.Tier(level)
	if err != nil {
		return false, err
	}

	last, err := s.store.GetLastSuccessfulRun(ctx, level)
	if err != nil {
		return false, fmt.Errorf("load last run for tier %d: %w", level, err)
	}
	if last == nil {
		return true, nil
	}

	frequency := time.Duration(tier.FrequencyHours) * time.Hour
	return s.now().Sub(last.StartedAt) >= frequency, nil
}

// RunScheduled runs every due tier in ascending order. A failed tier is
// logged and does not stop the later ones.
func (s *Scheduler) RunScheduled(ctx context.Context) ([]*syncengine.TierResult, error) {
	var results []*syncengine.TierResult

	for level := 1; level <= 4; level++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		due, err := s.ShouldRun(ctx, level)
		if err != nil {
			return results, err
		}
		if !due {
			continue
		}

		result, err := s.run(ctx, level)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			log.Printf("Warning: tier %d failed: %v", level, err)
		}
	}
	return results, nil
}

// RunSingle runs one tier now regardless of its schedule. When another tier
// is already in flight it fails fast, unless force is set, in which case it
// waits its turn.
func (s *Scheduler) RunSingle(ctx context.Context, level int, force bool) (*syncengine.TierResult, error) {
	if _, err := s.cfg.Tier(level); err != nil {
		return nil, err
	}
	if !force {
		if !s.runMu.TryLock() {
			return nil, fmt.Errorf("another tier is already running")
		}
		defer s.runMu.Unlock()
		return s.execute(ctx, level)
	}
	return s.run(ctx, level)
}

func (s *Scheduler) run(ctx context.Context, level int) (*syncengine.TierResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.execute(ctx, level)
}

// execute runs the tier with the run lock already held.
func (s *Scheduler) execute(ctx context.Context, level int) (*syncengine.TierResult, error) {
	s.stateMu.Lock()
	s.running = true
	s.current = level
	s.stateMu.Unlock()
	defer func() {
		s.stateMu.Lock()
		s.running = false
		s.current = 0
		s.stateMu.Unlock()
	}()

	return s.runner.RunTier(ctx, level)
}

// RunContinuous polls for due tiers on an interval until the context ends.
// maxIterations 0 means run forever.
func (s *Scheduler) RunContinuous(ctx context.Context, interval time.Duration, maxIterations int) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log.Printf("Scheduler running, checking every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; maxIterations == 0 || i < maxIterations; i++ {
		if _, err := s.RunScheduled(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Warning: scheduled pass: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// StartCron wires the scheduled pass into a cron expression (SYNC_CRON).
// Returns the started cron so the caller can Stop it on shutdown.
func (s *Scheduler) StartCron(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := s.RunScheduled(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Warning: cron pass: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	c.Start()
	log.Printf("Cron schedule active: %s", spec)
	return c, nil
}

// Status reports each tier's last run, next due time, and whether a run is
// in flight right now.
func (s *Scheduler) Status(ctx context.Context) ([]TierStatus, error) {
	s.stateMu.Lock()
	running := s.running
	current := s.current
	s.stateMu.Unlock()

	var statuses []TierStatus
	for level := 1; level <= 4; level++ {
		tier, err := s.cfg.Tier(level)
		if err != nil {
			continue
		}
		st := TierStatus{
			Level:     level,
			Name:      tier.Name,
			Frequency: time.Duration(tier.FrequencyHours) * time.Hour,
			IsRunning: running && current == level,
		}

		if last, err := s.store.GetLastRun(ctx, level); err == nil && last != nil {
			t := last.StartedAt
			st.LastRun = &t
		}
		if success, err := s.store.GetLastSuccessfulRun(ctx, level); err == nil && success != nil {
			t := success.StartedAt
			st.LastSuccess = &t
			next := success.StartedAt.Add(st.Frequency)
			st.NextRun = &next
			st.IsDue = !s.now().Before(next)
		} else {
			st.IsDue = true
		}

		statuses = append(statuses, st)
	}
	return statuses, nil
}

// LastRunSummary formats a run for the status display.
func LastRunSummary(run *models.SyncRun) string {
	if run == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", run.StartedAt.Format(time.RFC3339), run.Status)
}
