package services

import (
	"context"
	"testing"

	"github.com/SpencerMonger/PropScraper-sub000/models"
)

func TestUpsertFromScrape_MovedListingKeepsScrapedID(t *testing.T) {
	store := testStore(t)
	svc := NewCanonicalService(store)
	ctx := context.Background()

	scraped := &models.ScrapedProperty{
		PropertyID: "pincali_1111111111111111",
		SourceURL:  "https://x.test/p/new-slug",
		Title:      "Moved listing",
		Price:      floatPtr(900000),
	}
	// Queued under the old id, scraped under the final URL's fingerprint.
	if err := svc.UpsertFromScrape(ctx, "pincali_0000000000000000", scraped); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	props, err := store.GetCanonicalByIDs(ctx, []string{"pincali_1111111111111111"})
	if err != nil {
		t.Fatalf("load canonical: %v", err)
	}
	if len(props) != 1 || props[0].SourceURL != "https://x.test/p/new-slug" {
		t.Fatalf("scraped id should win: %+v", props)
	}
	if props[0].Status != models.StatusActive || props[0].LastFullScrapeAt == nil {
		t.Fatalf("scrape should stamp active and fresh: %+v", props[0])
	}

	old, err := store.GetCanonicalByIDs(ctx, []string{"pincali_0000000000000000"})
	if err != nil {
		t.Fatalf("load old id: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("queued id must not get a row when the scrape moved: %+v", old)
	}
}

func TestUpsertFromScrape_NilResultRejected(t *testing.T) {
	svc := NewCanonicalService(testStore(t))
	if err := svc.UpsertFromScrape(context.Background(), "pincali_2222222222222222", nil); err == nil {
		t.Fatalf("expected error for nil scrape result")
	}
}
