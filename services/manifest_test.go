package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
)

func testStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func testConfig() *config.Config {
	return &config.Config{
		PriceChangeThresholdPercent:  1.0,
		PriceChangeThresholdAbsolute: 1000.0,
		MinMissingCountForRemoval:    2,
		Queue: config.QueueConfig{
			MaxPending:        10000,
			StaleClaimMinutes: 30,
			CleanupDays:       7,
			Priorities: map[string]int{
				models.ReasonNewProperty: 1,
				models.ReasonPriceChange: 2,
			},
		},
	}
}

func floatPtr(v float64) *float64 { return &v }

func seedCanonical(t *testing.T, store *storage.SQLiteStore, id, url string, price float64) {
	t.Helper()
	now := time.Now()
	err := store.UpsertCanonicalFromScrape(context.Background(), &models.CanonicalProperty{
		PropertyID:    id,
		SourceURL:     url,
		Price:         floatPtr(price),
		Title:         "Seeded",
		ListingStatus: models.ListingStatusActive,
		Status:        models.StatusActive,
		FirstSeenAt:   now,
		LastSeenAt:    now,
		LastUpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed canonical %s: %v", id, err)
	}
}

func TestSignificantChange(t *testing.T) {
	svc := NewManifestService(nil, testConfig())

	cases := []struct {
		name     string
		old, new float64
		want     bool
	}{
		{"no change", 500000, 500000, false},
		{"above absolute", 500000, 501500, true},
		{"below both", 500000, 500900, false},
		{"percent on cheap listing", 50000, 50800, true},
		{"drop above absolute", 500000, 498000, true},
		{"old price zero", 0, 900, false},
		{"old price zero big delta", 0, 5000, true},
	}
	for _, c := range cases {
		if got := svc.significantChange(c.old, c.new); got != c.want {
			t.Fatalf("%s: significantChange(%v, %v) = %v, want %v", c.name, c.old, c.new, got, c.want)
		}
	}
}

func TestManifestUpsert_FlagsNewAndChanged(t *testing.T) {
	store := testStore(t)
	svc := NewManifestService(store, testConfig())
	ctx := context.Background()

	seedCanonical(t, store, "pincali_aaaaaaaaaaaaaaaa", "https://x.test/p/a", 1000000)
	seedCanonical(t, store, "pincali_bbbbbbbbbbbbbbbb", "https://x.test/p/b", 2000000)

	now := time.Now()
	entries := []models.ManifestEntry{
		{PropertyID: "pincali_aaaaaaaaaaaaaaaa", SourceURL: "https://x.test/p/a", ListingPrice: floatPtr(1000000), FirstSeenAt: now, LastSeenAt: now},
		{PropertyID: "pincali_bbbbbbbbbbbbbbbb", SourceURL: "https://x.test/p/b", ListingPrice: floatPtr(2100000), FirstSeenAt: now, LastSeenAt: now},
		{PropertyID: "pincali_cccccccccccccccc", SourceURL: "https://x.test/p/c", ListingPrice: floatPtr(3000000), FirstSeenAt: now, LastSeenAt: now},
	}

	newCount, priceChanges, err := svc.Upsert(ctx, entries, 7)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if newCount != 1 {
		t.Fatalf("expected 1 new, got %d", newCount)
	}
	if priceChanges != 1 {
		t.Fatalf("expected 1 price change, got %d", priceChanges)
	}

	newIDs, err := store.GetNewPropertyIDs(ctx, 7)
	if err != nil {
		t.Fatalf("get new ids: %v", err)
	}
	if len(newIDs) != 1 || newIDs[0] != "pincali_cccccccccccccccc" {
		t.Fatalf("unexpected new ids %v", newIDs)
	}

	changed, err := store.GetPriceChangedEntries(ctx, 7)
	if err != nil {
		t.Fatalf("get changed: %v", err)
	}
	if len(changed) != 1 || changed[0].PropertyID != "pincali_bbbbbbbbbbbbbbbb" {
		t.Fatalf("unexpected changed entries %v", changed)
	}
	if !changed[0].NeedsFullScrape {
		t.Fatalf("price change should set needs_full_scrape")
	}
}

func TestManifestUpsert_UnchangedEntryNotFlagged(t *testing.T) {
	store := testStore(t)
	svc := NewManifestService(store, testConfig())
	ctx := context.Background()

	seedCanonical(t, store, "pincali_dddddddddddddddd", "https://x.test/p/d", 1000000)

	now := time.Now()
	entries := []models.ManifestEntry{
		{PropertyID: "pincali_dddddddddddddddd", SourceURL: "https://x.test/p/d", ListingPrice: floatPtr(1000500), FirstSeenAt: now, LastSeenAt: now},
	}
	newCount, priceChanges, err := svc.Upsert(ctx, entries, 3)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if newCount != 0 || priceChanges != 0 {
		t.Fatalf("expected no flags, got new=%d changed=%d", newCount, priceChanges)
	}
}

func TestClearFlags(t *testing.T) {
	store := testStore(t)
	svc := NewManifestService(store, testConfig())
	ctx := context.Background()

	now := time.Now()
	entries := []models.ManifestEntry{
		{PropertyID: "pincali_eeeeeeeeeeeeeeee", SourceURL: "https://x.test/p/e", FirstSeenAt: now, LastSeenAt: now},
	}
	if _, _, err := svc.Upsert(ctx, entries, 9); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := svc.ClearFlags(ctx, 9); err != nil {
		t.Fatalf("clear flags: %v", err)
	}

	newIDs, err := store.GetNewPropertyIDs(ctx, 9)
	if err != nil {
		t.Fatalf("get new ids: %v", err)
	}
	if len(newIDs) != 0 {
		t.Fatalf("expected flags cleared, got %v", newIDs)
	}
}
