package workers

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/scraper"
	"github.com/SpencerMonger/PropScraper-sub000/services"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
)

// QueueProcessResult summarizes one drain pass.
type QueueProcessResult struct {
	Processed int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// QueueWorker claims queue batches and runs detail scrapes. Single worker per
// process; the claim protocol keeps multiple processes from stepping on each
// other.
type QueueWorker struct {
	store     storage.Store
	queue     *services.QueueService
	canonical *services.CanonicalService
	detail    scraper.Detail
	workerID  string
}

func NewQueueWorker(store storage.Store, queue *services.QueueService, canonical *services.CanonicalService, detail scraper.Detail) *QueueWorker {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &QueueWorker{
		store:     store,
		queue:     queue,
		canonical: canonical,
		detail:    detail,
		workerID:  fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// Drain processes up to maxItems entries in priority order, sleeping
// rateLimit between scrapes. Stale claims from dead workers are released
// first so their work is picked up here. Returns when the queue is empty,
// the cap is hit, or the context is cancelled.
func (w *QueueWorker) Drain(ctx context.Context, maxItems, batchSize int, rateLimit time.Duration) (*QueueProcessResult, error) {
	start := time.Now()
	result := &QueueProcessResult{}

	if released, err := w.queue.ReleaseStale(ctx); err != nil {
		log.Printf("Warning: release stale claims: %v", err)
	} else if released > 0 {
		log.Printf("Released %d stale queue claims", released)
	}

	if batchSize <= 0 {
		batchSize = 10
	}

	for maxItems <= 0 || result.Processed < maxItems {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		n := batchSize
		if maxItems > 0 && maxItems-result.Processed < n {
			n = maxItems - result.Processed
		}

		batch, err := w.store.ClaimQueueBatch(ctx, n, w.workerID, time.Now())
		if err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("claim batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			if err := ctx.Err(); err != nil {
				result.Duration = time.Since(start)
				return result, err
			}
			w.processEntry(ctx, &batch[i], result)
			result.Processed++

			if rateLimit > 0 {
				time.Sleep(rateLimit)
			}
		}
	}

	result.Duration = time.Since(start)
	log.Printf("Queue drain: %d processed, %d succeeded, %d failed in %s",
		result.Processed, result.Succeeded, result.Failed, result.Duration.Round(time.Second))
	return result, nil
}

func (w *QueueWorker) processEntry(ctx context.Context, entry *models.QueueEntry, result *QueueProcessResult) {
	scraped, err := w.detail.Scrape(ctx, entry.SourceURL)
	if err != nil {
		log.Printf("Warning: scrape %s (%s): %v", entry.PropertyID, entry.QueueReason, err)
		if cerr := w.store.CompleteQueueEntry(ctx, entry.ID, false, err.Error(), time.Now()); cerr != nil {
			log.Printf("Warning: mark %s failed: %v", entry.PropertyID, cerr)
		}
		result.Failed++
		return
	}

	if err := w.canonical.UpsertFromScrape(ctx, entry.PropertyID, scraped); err != nil {
		log.Printf("Warning: store scrape %s: %v", entry.PropertyID, err)
		if cerr := w.store.CompleteQueueEntry(ctx, entry.ID, false, err.Error(), time.Now()); cerr != nil {
			log.Printf("Warning: mark %s failed: %v", entry.PropertyID, cerr)
		}
		result.Failed++
		return
	}

	if err := w.store.CompleteQueueEntry(ctx, entry.ID, true, "", time.Now()); err != nil {
		log.Printf("Warning: mark %s completed: %v", entry.PropertyID, err)
	}
	result.Succeeded++
}
