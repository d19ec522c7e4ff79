package scanner

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/httputil"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/parser"
	"github.com/SpencerMonger/PropScraper-sub000/services"
)

const (
	defaultTotalPages = 100
	hardPageCap       = 500
)

// ScanResult summarizes one pass over a listing source (or several).
type ScanResult struct {
	PagesScanned int
	PagesFailed  int
	Entries      int
	NewFound     int
	PriceChanges int
}

// ManifestScanner walks paginated listing pages and feeds what it finds into
// the manifest.
type ManifestScanner struct {
	client   *httputil.Client
	manifest *services.ManifestService
}

func NewManifestScanner(client *httputil.Client, manifest *services.ManifestService) *ManifestScanner {
	return &ManifestScanner{client: client, manifest: manifest}
}

// RunScan scans up to maxPages of one source. maxPages 0 means all pages,
// detected from the first page's pagination (capped so a parser glitch cannot
// send us crawling forever). Failed pages get one retry pass; the scan aborts
// when failures exceed maxFailures.
func (s *ManifestScanner) RunScan(ctx context.Context, source config.ListingSource, maxPages int, runID int64, delay time.Duration, maxFailures int) (*ScanResult, error) {
	result := &ScanResult{}
	byID := make(map[string]models.ManifestEntry)

	firstPage, err := s.fetchPage(ctx, source, 1, delay)
	if err != nil {
		return result, fmt.Errorf("scan %s page 1: %w", source.Name, err)
	}
	result.PagesScanned++
	mergeEntries(byID, firstPage.entries)

	totalPages := maxPages
	if totalPages == 0 {
		totalPages = parser.DetectTotalPages(firstPage.html)
		if totalPages == 0 {
			log.Printf("Warning: could not detect page count for %s, assuming %d", source.Name, defaultTotalPages)
			totalPages = defaultTotalPages
		}
		if totalPages > hardPageCap {
			log.Printf("Warning: %s reports %d pages, capping at %d", source.Name, totalPages, hardPageCap)
			totalPages = hardPageCap
		}
	}

	var failed []int
	for page := 2; page <= totalPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		time.Sleep(delay)

		p, err := s.fetchPage(ctx, source, page, delay)
		if err != nil {
			log.Printf("Warning: %s page %d failed: %v", source.Name, page, err)
			failed = append(failed, page)
			continue
		}
		if len(p.entries) == 0 {
			// A block page or layout change parses as empty; treat it as a
			// failure so the retry pass gets a second look.
			log.Printf("Warning: %s page %d returned no entries", source.Name, page)
			failed = append(failed, page)
			continue
		}
		result.PagesScanned++
		mergeEntries(byID, p.entries)
	}

	// One retry pass over pages that failed the first time.
	var stillFailed []int
	for _, page := range failed {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		time.Sleep(delay * 2)

		p, err := s.fetchPage(ctx, source, page, delay)
		if err != nil || len(p.entries) == 0 {
			stillFailed = append(stillFailed, page)
			continue
		}
		result.PagesScanned++
		mergeEntries(byID, p.entries)
	}
	result.PagesFailed = len(stillFailed)

	if maxFailures > 0 && result.PagesFailed > maxFailures {
		return result, fmt.Errorf("scan %s: %d pages failed after retry (limit %d)", source.Name, result.PagesFailed, maxFailures)
	}

	entries := make([]models.ManifestEntry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	result.Entries = len(entries)

	newCount, priceChanges, err := s.manifest.Upsert(ctx, entries, runID)
	if err != nil {
		return result, err
	}
	result.NewFound = newCount
	result.PriceChanges = priceChanges

	log.Printf("Scan %s: %d pages, %d entries, %d new, %d price changes",
		source.Name, result.PagesScanned, result.Entries, result.NewFound, result.PriceChanges)
	return result, nil
}

// RunMultiSource scans every configured source in order, accumulating totals.
// A source that fails does not stop the others; the first error is returned
// alongside the combined result.
func (s *ManifestScanner) RunMultiSource(ctx context.Context, sources []config.ListingSource, maxPages int, runID int64, delay time.Duration, maxFailures int) (*ScanResult, error) {
	total := &ScanResult{}
	var firstErr error

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		r, err := s.RunScan(ctx, source, maxPages, runID, delay, maxFailures)
		if r != nil {
			total.PagesScanned += r.PagesScanned
			total.PagesFailed += r.PagesFailed
			total.Entries += r.Entries
			total.NewFound += r.NewFound
			total.PriceChanges += r.PriceChanges
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

type pageResult struct {
	html    []byte
	entries []models.ManifestEntry
}

// fetchPage fetches and parses one listing page, retrying once at a doubled
// delay on a timeout or 5xx.
func (s *ManifestScanner) fetchPage(ctx context.Context, source config.ListingSource, page int, delay time.Duration) (*pageResult, error) {
	pageURL := buildPageURL(source.URL, page)

	status, body, err := s.client.Get(ctx, pageURL)
	if err != nil || status >= 500 {
		time.Sleep(delay * 2)
		status, body, err = s.client.Get(ctx, pageURL)
	}
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("status %d", status)
	}

	entries, err := parser.ParseListingPage(body, pageURL, source.OperationType)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &pageResult{html: body, entries: entries}, nil
}

// buildPageURL appends the page parameter. Page 1 is the bare source URL so
// the fingerprinted landing page matches what a browser sees.
func buildPageURL(sourceURL string, page int) string {
	if page <= 1 {
		return sourceURL
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return sourceURL
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// mergeEntries folds page entries into the cross-page dedup map, keeping the
// richer entry when a property shows up on more than one page.
func mergeEntries(byID map[string]models.ManifestEntry, entries []models.ManifestEntry) {
	for _, e := range entries {
		existing, seen := byID[e.PropertyID]
		if !seen || e.FieldCount() > existing.FieldCount() {
			byID[e.PropertyID] = e
		}
	}
}
