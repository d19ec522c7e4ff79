package services

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
)

// HeadProber probes a property URL without following redirects.
type HeadProber interface {
	Head(ctx context.Context, url string) (int, string, error)
}

// DiffService compares the manifest against the canonical table: new
// properties, price changes, removal candidates and relistings.
type DiffService struct {
	store  storage.Store
	prober HeadProber
	cfg    *config.Config
}

func NewDiffService(store storage.Store, prober HeadProber, cfg *config.Config) *DiffService {
	return &DiffService{store: store, prober: prober, cfg: cfg}
}

// DetectNew returns ids flagged as new during the given run.
func (s *DiffService) DetectNew(ctx context.Context, runID int64) ([]string, error) {
	return s.store.GetNewPropertyIDs(ctx, runID)
}

// DetectPriceChanges resolves flagged entries into old/new price pairs.
func (s *DiffService) DetectPriceChanges(ctx context.Context, runID int64) ([]models.PriceChange, error) {
	entries, err := s.store.GetPriceChangedEntries(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]string, len(entries))
	for i := range entries {
		ids[i] = entries[i].PropertyID
	}
	canonical, err := s.store.GetCanonicalByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	oldPrices := make(map[string]float64, len(canonical))
	for i := range canonical {
		if canonical[i].Price != nil {
			oldPrices[canonical[i].PropertyID] = *canonical[i].Price
		}
	}

	var changes []models.PriceChange
	for i := range entries {
		e := &entries[i]
		if e.ListingPrice == nil {
			continue
		}
		old, ok := oldPrices[e.PropertyID]
		if !ok {
			continue
		}
		pc := models.PriceChange{
			PropertyID: e.PropertyID,
			OldPrice:   old,
			NewPrice:   *e.ListingPrice,
		}
		if old > 0 {
			pc.PercentChange = (pc.NewPrice - old) / old * 100
		}
		changes = append(changes, pc)
	}
	return changes, nil
}

// MaintainMissingCounts increments consecutive_missing_count for active
// properties absent from the run's manifest, then resets it for those
// present. Only meaningful after a full scan; a partial scan would punish
// properties that simply live on deeper pages.
func (s *DiffService) MaintainMissingCounts(ctx context.Context, runID int64, operationTypes []string) (int, int, error) {
	now := time.Now()
	incremented, err := s.store.IncrementMissingCounts(ctx, runID, operationTypes, now)
	if err != nil {
		return 0, 0, fmt.Errorf("increment missing counts: %w", err)
	}
	reset, err := s.store.ResetMissingCounts(ctx, runID, now)
	if err != nil {
		return incremented, 0, fmt.Errorf("reset missing counts: %w", err)
	}
	return incremented, reset, nil
}

// FindRemovalCandidates returns active properties missing from at least
// minMissing consecutive full scans.
func (s *DiffService) FindRemovalCandidates(ctx context.Context, limit int) ([]models.CanonicalProperty, error) {
	return s.store.GetRemovalCandidates(ctx, s.cfg.MinMissingCountForRemoval, limit)
}

// VerifyRemovals HEAD-probes each candidate. A 404/410 or a redirect back to
// a search page confirms the removal; a 200 clears the candidate.
func (s *DiffService) VerifyRemovals(ctx context.Context, candidates []models.CanonicalProperty) ([]models.RemovalResult, error) {
	results := make([]models.RemovalResult, 0, len(candidates))
	var confirmed, cleared []string

	for i := range candidates {
		c := &candidates[i]
		if err := ctx.Err(); err != nil {
			return results, err
		}

		r := models.RemovalResult{PropertyID: c.PropertyID, SourceURL: c.SourceURL}
		status, location, err := s.prober.Head(ctx, c.SourceURL)
		switch {
		case err != nil:
			r.Reason = fmt.Sprintf("probe failed: %v", err)
		case status == http.StatusNotFound || status == http.StatusGone:
			r.Confirmed = true
			r.StatusCode = status
			r.Reason = "gone"
		case status >= 300 && status < 400:
			r.StatusCode = status
			if isSearchRedirect(location) {
				r.Confirmed = true
				r.Reason = "redirected to search"
			} else {
				r.Reason = "redirected to another page"
			}
		case status >= 200 && status < 300:
			r.StatusCode = status
			r.Reason = "still live"
			cleared = append(cleared, c.PropertyID)
		default:
			r.StatusCode = status
			r.Reason = fmt.Sprintf("status %d", status)
		}

		if r.Confirmed {
			confirmed = append(confirmed, c.PropertyID)
		}
		results = append(results, r)
	}

	now := time.Now()
	if len(confirmed) > 0 {
		if err := s.store.MarkConfirmedRemoved(ctx, confirmed, now); err != nil {
			return results, fmt.Errorf("mark removed: %w", err)
		}
		log.Printf("Removal verification: %d confirmed removed", len(confirmed))
	}
	if len(cleared) > 0 {
		if err := s.store.ClearRemovalCandidates(ctx, cleared, now); err != nil {
			return results, fmt.Errorf("clear removal candidates: %w", err)
		}
	}
	return results, nil
}

// DetectRelisted finds previously removed properties that reappeared in the
// run's manifest and flips them back to active.
func (s *DiffService) DetectRelisted(ctx context.Context, runID int64) ([]string, error) {
	ids, err := s.store.GetRelistedIDs(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.store.MarkRelisted(ctx, ids, time.Now()); err != nil {
		return nil, fmt.Errorf("mark relisted: %w", err)
	}
	log.Printf("Relist detection: %d properties back on the market", len(ids))
	return ids, nil
}

// isSearchRedirect classifies a redirect Location: landing back on a search
// or listing index means the property page is gone. A redirect to another
// property detail page (a moved listing) does not.
func isSearchRedirect(location string) bool {
	if location == "" {
		return true
	}
	u, err := url.Parse(location)
	if err != nil {
		return true
	}
	path := strings.ToLower(u.Path)

	for _, marker := range []string{"/search", "/properties", "/listings", "/resultados", "/filter"} {
		if strings.Contains(path, marker) {
			return true
		}
	}
	// Redirect to the bare root or a query-only URL is the common soft-404.
	if path == "" || path == "/" {
		return true
	}
	return false
}
