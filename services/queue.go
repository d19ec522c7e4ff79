package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
)

// QueueService enqueues properties for detail scraping and exposes queue
// maintenance. The store enforces one pending entry per property.
type QueueService struct {
	store storage.Store
	cfg   *config.Config
}

func NewQueueService(store storage.Store, cfg *config.Config) *QueueService {
	return &QueueService{store: store, cfg: cfg}
}

// Enqueue queues the given property ids with a priority derived from the
// reason. metadata, when non-nil, carries a per-property payload stored on
// that property's entry (price changes record old/new price this way).
// Source URLs come from the manifest, falling back to the canonical record;
// ids with no known URL are skipped with a warning. Inserts beyond the
// maxPending cap are dropped. Returns how many entries were actually
// inserted (duplicates of a pending entry are not).
func (s *QueueService) Enqueue(ctx context.Context, ids []string, reason string, runID int64, metadata map[string]json.RawMessage) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	if s.cfg.Queue.MaxPending > 0 {
		pending, err := s.store.CountQueuePending(ctx)
		if err != nil {
			return 0, fmt.Errorf("count pending: %w", err)
		}
		room := s.cfg.Queue.MaxPending - pending
		if room <= 0 {
			log.Printf("Warning: queue full (%d pending, cap %d), dropping %d %s entries",
				pending, s.cfg.Queue.MaxPending, len(ids), reason)
			return 0, nil
		}
		if len(ids) > room {
			log.Printf("Warning: queue has %d pending (cap %d), dropping %d of %d %s entries",
				pending, s.cfg.Queue.MaxPending, len(ids)-room, len(ids), reason)
			ids = ids[:room]
		}
	}

	urls, err := s.resolveURLs(ctx, ids)
	if err != nil {
		return 0, err
	}

	priority := s.cfg.PriorityFor(reason)
	now := time.Now()
	inserted := 0

	for _, id := range ids {
		sourceURL, ok := urls[id]
		if !ok || sourceURL == "" {
			log.Printf("Warning: no source URL for %s, skipping enqueue", id)
			continue
		}
		entry := &models.QueueEntry{
			ID:          uuid.New(),
			PropertyID:  id,
			SourceURL:   sourceURL,
			Priority:    priority,
			QueueReason: reason,
			Status:      models.QueuePending,
			Metadata:    metadata[id],
			QueuedAt:    now,
			RunID:       &runID,
		}
		ok, err := s.store.InsertQueueEntry(ctx, entry)
		if err != nil {
			return inserted, fmt.Errorf("enqueue %s: %w", id, err)
		}
		if ok {
			inserted++
		}
	}

	if inserted > 0 {
		log.Printf("Queued %d/%d properties (%s, priority %d)", inserted, len(ids), reason, priority)
	}
	return inserted, nil
}

func (s *QueueService) resolveURLs(ctx context.Context, ids []string) (map[string]string, error) {
	urls := make(map[string]string, len(ids))

	entries, err := s.store.GetManifestEntries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve urls from manifest: %w", err)
	}
	for i := range entries {
		urls[entries[i].PropertyID] = entries[i].SourceURL
	}

	var missing []string
	for _, id := range ids {
		if _, ok := urls[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		canonical, err := s.store.GetCanonicalByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("resolve urls from canonical: %w", err)
		}
		for i := range canonical {
			urls[canonical[i].PropertyID] = canonical[i].SourceURL
		}
	}
	return urls, nil
}

func (s *QueueService) Stats(ctx context.Context) (*models.QueueStats, error) {
	return s.store.QueueStats(ctx)
}

// ReleaseStale returns in_progress entries with expired claims to pending.
func (s *QueueService) ReleaseStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.Queue.StaleClaimMinutes) * time.Minute)
	return s.store.ReleaseStaleClaims(ctx, cutoff)
}

// RetryFailed requeues failed entries that have attempts left.
func (s *QueueService) RetryFailed(ctx context.Context, maxAttempts, limit int) (int, error) {
	return s.store.RetryFailedEntries(ctx, maxAttempts, limit)
}

// CancelByReason cancels all pending entries queued for the given reason.
func (s *QueueService) CancelByReason(ctx context.Context, reason string) (int, error) {
	return s.store.CancelPendingByReason(ctx, reason)
}

// Cleanup deletes completed and cancelled entries past the retention window.
func (s *QueueService) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.Queue.CleanupDays)
	return s.store.CleanupQueue(ctx, cutoff)
}
