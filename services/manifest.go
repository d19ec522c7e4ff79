package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
)

// ManifestService ingests scanned entries and computes their lifecycle flags
// against the canonical table before writing.
type ManifestService struct {
	store storage.Store
	cfg   *config.Config
}

func NewManifestService(store storage.Store, cfg *config.Config) *ManifestService {
	return &ManifestService{store: store, cfg: cfg}
}

// Upsert writes scanned entries, flagging each as new or price-changed by
// comparison against the canonical record. Returns how many of each were
// flagged in this batch.
func (s *ManifestService) Upsert(ctx context.Context, entries []models.ManifestEntry, runID int64) (int, int, error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}

	ids := make([]string, len(entries))
	for i := range entries {
		ids[i] = entries[i].PropertyID
	}

	canonical, err := s.store.GetCanonicalByIDs(ctx, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("load canonical records: %w", err)
	}
	known := make(map[string]*models.CanonicalProperty, len(canonical))
	for i := range canonical {
		known[canonical[i].PropertyID] = &canonical[i]
	}

	now := time.Now()
	newCount := 0
	priceChangeCount := 0

	for i := range entries {
		e := &entries[i]
		e.SeenInRunID = runID
		e.LastSeenAt = now

		existing, ok := known[e.PropertyID]
		if !ok {
			e.IsNew = true
			e.NeedsFullScrape = true
			e.FirstSeenAt = now
			newCount++
			continue
		}

		// first_seen_at is preserved by the upsert merge; the value here is
		// only used on insert, which cannot happen for a known property.
		e.FirstSeenAt = now

		if e.ListingPrice != nil && existing.Price != nil &&
			s.significantChange(*existing.Price, *e.ListingPrice) {
			e.PriceChanged = true
			e.NeedsFullScrape = true
			priceChangeCount++
		}
	}

	for _, chunk := range chunkEntries(entries, storage.WriteChunkSize) {
		if err := s.store.UpsertManifestEntries(ctx, chunk); err != nil {
			return newCount, priceChangeCount, fmt.Errorf("upsert manifest batch: %w", err)
		}
	}

	if newCount > 0 || priceChangeCount > 0 {
		log.Printf("Manifest upsert: %d entries, %d new, %d price changes", len(entries), newCount, priceChangeCount)
	}
	return newCount, priceChangeCount, nil
}

// ClearFlags resets the per-run flags once queueing has consumed them.
func (s *ManifestService) ClearFlags(ctx context.Context, runID int64) error {
	return s.store.ClearManifestFlags(ctx, runID)
}

// significantChange reports whether the price moved enough to matter: more
// than the absolute threshold, or more than the percent threshold of the old
// price. The percent test is skipped when the old price is not positive.
func (s *ManifestService) significantChange(oldPrice, newPrice float64) bool {
	delta := newPrice - oldPrice
	if delta < 0 {
		delta = -delta
	}
	if delta == 0 {
		return false
	}
	if delta > s.cfg.PriceChangeThresholdAbsolute {
		return true
	}
	if oldPrice <= 0 {
		return false
	}
	return delta/oldPrice*100 > s.cfg.PriceChangeThresholdPercent
}

func chunkEntries(entries []models.ManifestEntry, size int) [][]models.ManifestEntry {
	var chunks [][]models.ManifestEntry
	for len(entries) > size {
		chunks = append(chunks, entries[:size])
		entries = entries[size:]
	}
	if len(entries) > 0 {
		chunks = append(chunks, entries)
	}
	return chunks
}
