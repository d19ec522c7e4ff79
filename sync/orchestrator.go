package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/scanner"
	"github.com/SpencerMonger/PropScraper-sub000/services"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
	"github.com/SpencerMonger/PropScraper-sub000/workers"
)

// TierResult is what one tier run produced.
type TierResult struct {
	RunID             int64
	TierLevel         int
	TierName          string
	PagesScanned      int
	NewFound          int
	PriceChanges      int
	Relisted          int
	RemovalsConfirmed int
	Queued            int
	Scraped           int
	Failed            int
	Duration          time.Duration
	Err               error
}

// TierOrchestrator runs the per-tier recipes: scan, diff, queue, drain. Each
// run gets a sync_runs row and a scraping session; partial failures are
// counted into the run record rather than aborting it.
type TierOrchestrator struct {
	store    storage.Store
	scanner  *scanner.ManifestScanner
	manifest *services.ManifestService
	diff     *services.DiffService
	queue    *services.QueueService
	worker   *workers.QueueWorker
	cfg      *config.Config
}

func NewTierOrchestrator(
	store storage.Store,
	sc *scanner.ManifestScanner,
	manifest *services.ManifestService,
	diff *services.DiffService,
	queue *services.QueueService,
	worker *workers.QueueWorker,
	cfg *config.Config,
) *TierOrchestrator {
	return &TierOrchestrator{
		store:    store,
		scanner:  sc,
		manifest: manifest,
		diff:     diff,
		queue:    queue,
		worker:   worker,
		cfg:      cfg,
	}
}

// RunTier executes one tier end to end and records the outcome.
func (o *TierOrchestrator) RunTier(ctx context.Context, level int) (*TierResult, error) {
	tier, err := o.cfg.Tier(level)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	run := &models.SyncRun{
		TierLevel: level,
		TierName:  tier.Name,
		Status:    models.RunStatusRunning,
		StartedAt: start,
	}
	if err := o.store.CreateSyncRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	session := &models.ScrapingSession{
		ID:        uuid.New(),
		TierLevel: level,
		Status:    "running",
		StartedAt: start,
	}
	if err := o.store.CreateScrapingSession(ctx, session); err != nil {
		log.Printf("Warning: create scraping session: %v", err)
	}

	log.Printf("=== Tier %d (%s) starting, run %d ===", level, tier.Name, run.ID)

	result := &TierResult{RunID: run.ID, TierLevel: level, TierName: tier.Name}
	err = o.runTier(ctx, tier, run, result)

	now := time.Now()
	result.Duration = now.Sub(start)
	completed := now
	run.CompletedAt = &completed
	run.Status = models.RunStatusCompleted
	sessionStatus := "completed"
	if err != nil {
		result.Err = err
		run.Status = models.RunStatusFailed
		run.ErrorSummary = err.Error()
		sessionStatus = "failed"
		if ctx.Err() != nil {
			run.Status = models.RunStatusCancelled
			sessionStatus = "cancelled"
		}
	}
	if uerr := o.store.UpdateSyncRun(context.WithoutCancel(ctx), run); uerr != nil {
		log.Printf("Warning: update run %d: %v", run.ID, uerr)
	}
	if serr := o.store.CloseScrapingSession(context.WithoutCancel(ctx), session.ID, sessionStatus, now); serr != nil {
		log.Printf("Warning: close scraping session: %v", serr)
	}

	log.Printf("=== Tier %d done in %s: %d pages, %d new, %d price changes, %d removed, %d queued, %d scraped ===",
		level, result.Duration.Round(time.Second), result.PagesScanned, result.NewFound,
		result.PriceChanges, result.RemovalsConfirmed, result.Queued, result.Scraped)
	return result, err
}

func (o *TierOrchestrator) runTier(ctx context.Context, tier *config.TierConfig, run *models.SyncRun, result *TierResult) error {
	switch tier.Level {
	case 1:
		return o.runScanTier(ctx, tier, run, result, false, false)
	case 2:
		return o.runScanTier(ctx, tier, run, result, true, false)
	case 3:
		return o.runScanTier(ctx, tier, run, result, true, true)
	case 4:
		return o.runRefreshTier(ctx, tier, run, result)
	default:
		return fmt.Errorf("unknown tier: %d", tier.Level)
	}
}

// runScanTier is tiers 1-3: scan listing pages, diff, queue, drain. Tier 1
// queues only new properties; tier 2 adds price changes and relistings;
// tier 3 scans everything and additionally maintains missing counts and
// verifies removals.
func (o *TierOrchestrator) runScanTier(ctx context.Context, tier *config.TierConfig, run *models.SyncRun, result *TierResult, withChanges, fullScan bool) error {
	scanResult, scanErr := o.scanner.RunMultiSource(ctx, o.cfg.ListingSources, tier.PagesToScan,
		run.ID, tier.DelayBetweenPages.Std(), tier.MaxPageFailures)
	if scanResult != nil {
		result.PagesScanned = scanResult.PagesScanned
		run.PagesScanned = scanResult.PagesScanned
	}
	if scanErr != nil {
		return fmt.Errorf("scan: %w", scanErr)
	}

	newIDs, err := o.diff.DetectNew(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("detect new: %w", err)
	}
	result.NewFound = len(newIDs)
	run.NewFound = len(newIDs)

	queued, err := o.queue.Enqueue(ctx, newIDs, models.ReasonNewProperty, run.ID, nil)
	if err != nil {
		return fmt.Errorf("queue new: %w", err)
	}
	result.Queued += queued

	if withChanges {
		changes, err := o.diff.DetectPriceChanges(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("detect price changes: %w", err)
		}
		result.PriceChanges = len(changes)
		run.PriceChanges = len(changes)

		changedIDs := make([]string, len(changes))
		for i := range changes {
			changedIDs[i] = changes[i].PropertyID
		}
		queued, err = o.queue.Enqueue(ctx, changedIDs, models.ReasonPriceChange, run.ID, priceChangeMetadata(changes))
		if err != nil {
			return fmt.Errorf("queue price changes: %w", err)
		}
		result.Queued += queued

		relisted, err := o.diff.DetectRelisted(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("detect relisted: %w", err)
		}
		result.Relisted = len(relisted)
		queued, err = o.queue.Enqueue(ctx, relisted, models.ReasonRelisted, run.ID, nil)
		if err != nil {
			return fmt.Errorf("queue relisted: %w", err)
		}
		result.Queued += queued
	}

	if fullScan {
		if err := o.runRemovalPass(ctx, tier, run, result); err != nil {
			return err
		}

		staleIDs, err := o.store.GetStaleCanonicalIDs(ctx,
			time.Now().AddDate(0, 0, -tier.StaleDaysThreshold), tier.MaxQueueItems)
		if err != nil {
			return fmt.Errorf("find stale: %w", err)
		}
		queued, err = o.queue.Enqueue(ctx, staleIDs, models.ReasonStaleData, run.ID, nil)
		if err != nil {
			return fmt.Errorf("queue stale: %w", err)
		}
		result.Queued += queued
	}

	run.Queued = result.Queued
	return o.drainAndClear(ctx, tier, run, result)
}

// priceChangeMetadata records the observed price move on each queue entry so
// downstream consumers can see what triggered the rescrape.
func priceChangeMetadata(changes []models.PriceChange) map[string]json.RawMessage {
	meta := make(map[string]json.RawMessage, len(changes))
	for i := range changes {
		payload, err := json.Marshal(map[string]float64{
			"old_price": changes[i].OldPrice,
			"new_price": changes[i].NewPrice,
		})
		if err != nil {
			continue
		}
		meta[changes[i].PropertyID] = payload
	}
	return meta
}

// runRemovalPass is the tier 3 absence pipeline: bump missing counts against
// the completed full scan, HEAD-verify properties over the threshold, and
// drop confirmed removals from the manifest so they cannot re-flag.
func (o *TierOrchestrator) runRemovalPass(ctx context.Context, tier *config.TierConfig, run *models.SyncRun, result *TierResult) error {
	operationTypes := make([]string, 0, len(o.cfg.ListingSources))
	seen := make(map[string]bool)
	for _, src := range o.cfg.ListingSources {
		if !seen[src.OperationType] {
			seen[src.OperationType] = true
			operationTypes = append(operationTypes, src.OperationType)
		}
	}

	incremented, reset, err := o.diff.MaintainMissingCounts(ctx, run.ID, operationTypes)
	if err != nil {
		return err
	}
	log.Printf("Missing counts: %d incremented, %d reset", incremented, reset)

	candidates, err := o.diff.FindRemovalCandidates(ctx, tier.MaxQueueItems)
	if err != nil {
		return fmt.Errorf("find removal candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	results, err := o.diff.VerifyRemovals(ctx, candidates)
	if err != nil {
		return fmt.Errorf("verify removals: %w", err)
	}

	var confirmed []string
	for i := range results {
		if results[i].Confirmed {
			confirmed = append(confirmed, results[i].PropertyID)
		}
	}
	result.RemovalsConfirmed = len(confirmed)
	run.RemovalsConfirmed = len(confirmed)

	if len(confirmed) > 0 {
		if err := o.store.DeleteManifestEntries(ctx, confirmed); err != nil {
			return fmt.Errorf("drop removed manifest rows: %w", err)
		}
	}
	return nil
}

// runRefreshTier is tier 4: no listing scan, just requeue stale records and a
// random sample of the active stock, then drain at the polite rate.
func (o *TierOrchestrator) runRefreshTier(ctx context.Context, tier *config.TierConfig, run *models.SyncRun, result *TierResult) error {
	staleIDs, err := o.store.GetStaleCanonicalIDs(ctx,
		time.Now().AddDate(0, 0, -tier.StaleDaysThreshold), tier.MaxQueueItems)
	if err != nil {
		return fmt.Errorf("find stale: %w", err)
	}
	queued, err := o.queue.Enqueue(ctx, staleIDs, models.ReasonStaleData, run.ID, nil)
	if err != nil {
		return fmt.Errorf("queue stale: %w", err)
	}
	result.Queued += queued

	if tier.RandomSamplePercent > 0 {
		active, err := o.store.CountActiveCanonical(ctx)
		if err != nil {
			return fmt.Errorf("count active: %w", err)
		}
		sampleSize := int(float64(active) * tier.RandomSamplePercent / 100)
		if sampleSize > tier.MaxQueueItems {
			sampleSize = tier.MaxQueueItems
		}
		if sampleSize > 0 {
			sampleIDs, err := o.store.GetRandomCanonicalIDs(ctx, sampleSize)
			if err != nil {
				return fmt.Errorf("sample active: %w", err)
			}
			queued, err = o.queue.Enqueue(ctx, sampleIDs, models.ReasonRandomSample, run.ID, nil)
			if err != nil {
				return fmt.Errorf("queue sample: %w", err)
			}
			result.Queued += queued
		}
	}

	run.Queued = result.Queued
	return o.drainAndClear(ctx, tier, run, result)
}

// drainAndClear runs the queue worker up to this tier's item cap, then clears
// the per-run manifest flags so the next run starts from a clean slate.
func (o *TierOrchestrator) drainAndClear(ctx context.Context, tier *config.TierConfig, run *models.SyncRun, result *TierResult) error {
	drain, err := o.worker.Drain(ctx, tier.MaxQueueItems, tier.BatchSize, tier.DelayBetweenDetails.Std())
	if drain != nil {
		result.Scraped = drain.Succeeded
		result.Failed = drain.Failed
		run.Scraped = drain.Succeeded
		run.Updated = drain.Succeeded
	}
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}

	if drain.Processed > 0 && tier.MaxErrorPercent > 0 {
		errorPercent := float64(drain.Failed) / float64(drain.Processed) * 100
		if errorPercent > tier.MaxErrorPercent {
			return fmt.Errorf("drain error rate %.0f%% exceeds limit %.0f%%", errorPercent, tier.MaxErrorPercent)
		}
	}

	if err := o.manifest.ClearFlags(ctx, run.ID); err != nil {
		return fmt.Errorf("clear manifest flags: %w", err)
	}
	return nil
}
