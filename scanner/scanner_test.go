package scanner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/httputil"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/services"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
)

func newTestScanner(t *testing.T, baseURL string) (*ManifestScanner, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	cfg := &config.Config{
		PriceChangeThresholdPercent:  1.0,
		PriceChangeThresholdAbsolute: 1000.0,
	}
	manifest := services.NewManifestService(store, cfg)
	client := httputil.NewClient("test-agent", baseURL, 10*time.Second)
	return NewManifestScanner(client, manifest), store
}

func tile(slug string, price int) string {
	return fmt.Sprintf(`<div class="property-card">
		<a href="/property/%s"><h2 class="property-title">%s</h2></a>
		<span class="property-price">$%d</span>
	</div>`, slug, slug, price)
}

func TestRunScan_MultiPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprintf(w, `<html><body>Page 1 of 3 %s %s</body></html>`,
				tile("casa-a", 1000000), tile("casa-b", 2000000))
		case "2":
			fmt.Fprintf(w, `<html><body>%s %s</body></html>`,
				tile("casa-c", 3000000), tile("casa-a", 1000000))
		case "3":
			fmt.Fprintf(w, `<html><body>%s</body></html>`, tile("casa-d", 4000000))
		default:
			w.Write([]byte("<html><body></body></html>"))
		}
	}))
	defer srv.Close()

	sc, store := newTestScanner(t, srv.URL)
	source := config.ListingSource{Name: "sale", URL: srv.URL + "/search", OperationType: models.OperationSale}

	result, err := sc.RunScan(context.Background(), source, 0, 1, 0, 3)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.PagesScanned != 3 {
		t.Fatalf("expected 3 pages scanned, got %d", result.PagesScanned)
	}
	// casa-a appears on two pages; 4 unique properties.
	if result.Entries != 4 {
		t.Fatalf("expected 4 unique entries, got %d", result.Entries)
	}
	if result.NewFound != 4 {
		t.Fatalf("expected 4 new, got %d", result.NewFound)
	}

	ids, err := store.GetNewPropertyIDs(context.Background(), 1)
	if err != nil {
		t.Fatalf("get new ids: %v", err)
	}
	if len(ids) != 4 {
		t.Fatalf("expected 4 manifest rows, got %d", len(ids))
	}
}

func TestRunScan_MaxPagesLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		page := r.URL.Query().Get("page")
		if page == "" {
			page = "1"
		}
		fmt.Fprintf(w, `<html><body>Page 1 of 99 %s</body></html>`, tile("casa-"+page, 1000000))
	}))
	defer srv.Close()

	sc, _ := newTestScanner(t, srv.URL)
	source := config.ListingSource{Name: "sale", URL: srv.URL + "/search", OperationType: models.OperationSale}

	result, err := sc.RunScan(context.Background(), source, 2, 1, 0, 3)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.PagesScanned != 2 {
		t.Fatalf("expected 2 pages scanned, got %d", result.PagesScanned)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 requests, got %d", hits)
	}
}

func TestRunScan_EmptyPageCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprintf(w, `<html><body>Page 1 of 3 %s</body></html>`, tile("casa-a", 1000000))
		case "2":
			// A block page parses as zero entries.
			w.Write([]byte("<html><body>verifying your browser</body></html>"))
		case "3":
			fmt.Fprintf(w, `<html><body>%s</body></html>`, tile("casa-b", 2000000))
		}
	}))
	defer srv.Close()

	sc, _ := newTestScanner(t, srv.URL)
	source := config.ListingSource{Name: "sale", URL: srv.URL + "/search", OperationType: models.OperationSale}

	result, err := sc.RunScan(context.Background(), source, 0, 1, 0, 3)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	// The empty page must not end the walk: page 3 is still scanned.
	if result.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", result.Entries)
	}
	if result.PagesFailed != 1 {
		t.Fatalf("empty page should count as failed, got %d", result.PagesFailed)
	}
	if result.PagesScanned != 2 {
		t.Fatalf("expected 2 pages scanned, got %d", result.PagesScanned)
	}
}

func TestRunScan_EmptyPagesAbortWhenOverLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			fmt.Fprintf(w, `<html><body>Page 1 of 5 %s</body></html>`, tile("casa-a", 1000000))
			return
		}
		w.Write([]byte("<html><body>verifying your browser</body></html>"))
	}))
	defer srv.Close()

	sc, _ := newTestScanner(t, srv.URL)
	source := config.ListingSource{Name: "sale", URL: srv.URL + "/search", OperationType: models.OperationSale}

	if _, err := sc.RunScan(context.Background(), source, 0, 1, 0, 2); err == nil {
		t.Fatalf("expected abort when empty pages exceed the failure limit")
	}
}

func TestRunScan_RetriesFailedPages(t *testing.T) {
	var page2Hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprintf(w, `<html><body>Page 1 of 2 %s</body></html>`, tile("casa-a", 1000000))
		case "2":
			// Fail the first two attempts (initial + in-fetch retry), then serve.
			if atomic.AddInt32(&page2Hits, 1) <= 2 {
				http.Error(w, "flaky", http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, `<html><body>%s</body></html>`, tile("casa-b", 2000000))
		}
	}))
	defer srv.Close()

	sc, _ := newTestScanner(t, srv.URL)
	source := config.ListingSource{Name: "sale", URL: srv.URL + "/search", OperationType: models.OperationSale}

	result, err := sc.RunScan(context.Background(), source, 0, 1, 0, 3)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.PagesFailed != 0 {
		t.Fatalf("expected retry pass to recover the page, %d failed", result.PagesFailed)
	}
	if result.Entries != 2 {
		t.Fatalf("expected 2 entries after retry, got %d", result.Entries)
	}
}

func TestRunScan_AbortsOnTooManyFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			fmt.Fprintf(w, `<html><body>Page 1 of 4 %s</body></html>`, tile("casa-a", 1000000))
			return
		}
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sc, _ := newTestScanner(t, srv.URL)
	source := config.ListingSource{Name: "sale", URL: srv.URL + "/search", OperationType: models.OperationSale}

	if _, err := sc.RunScan(context.Background(), source, 0, 1, 0, 2); err == nil {
		t.Fatalf("expected failure when pages keep failing")
	}
}
