package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/models"
)

type fakeProber struct {
	responses map[string]probeResponse
}

type probeResponse struct {
	status   int
	location string
	err      error
}

func (f *fakeProber) Head(_ context.Context, url string) (int, string, error) {
	r, ok := f.responses[url]
	if !ok {
		return 0, "", fmt.Errorf("unexpected probe: %s", url)
	}
	return r.status, r.location, r.err
}

func TestIsSearchRedirect(t *testing.T) {
	cases := []struct {
		location string
		want     bool
	}{
		{"https://www.pincali.com/search?operation=sale", true},
		{"https://www.pincali.com/properties-for-sale", true},
		{"https://www.pincali.com/resultados", true},
		{"https://www.pincali.com/", true},
		{"https://www.pincali.com/?ref=removed", true},
		{"", true},
		{"https://www.pincali.com/property/casa-nueva-url", false},
		{"https://www.pincali.com/propiedad/depto-123", false},
	}
	for _, c := range cases {
		if got := isSearchRedirect(c.location); got != c.want {
			t.Fatalf("isSearchRedirect(%q) = %v, want %v", c.location, got, c.want)
		}
	}
}

func TestVerifyRemovals(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	gone := models.CanonicalProperty{PropertyID: "pincali_1111111111111111", SourceURL: "https://x.test/p/gone"}
	redirected := models.CanonicalProperty{PropertyID: "pincali_2222222222222222", SourceURL: "https://x.test/p/redirected"}
	alive := models.CanonicalProperty{PropertyID: "pincali_3333333333333333", SourceURL: "https://x.test/p/alive"}
	flaky := models.CanonicalProperty{PropertyID: "pincali_4444444444444444", SourceURL: "https://x.test/p/flaky"}

	for _, p := range []models.CanonicalProperty{gone, redirected, alive, flaky} {
		seedCanonical(t, store, p.PropertyID, p.SourceURL, 1000000)
	}

	prober := &fakeProber{responses: map[string]probeResponse{
		gone.SourceURL:       {status: 404},
		redirected.SourceURL: {status: 301, location: "https://x.test/search?op=sale"},
		alive.SourceURL:      {status: 200},
		flaky.SourceURL:      {err: errors.New("connection reset")},
	}}
	svc := NewDiffService(store, prober, testConfig())

	results, err := svc.VerifyRemovals(ctx, []models.CanonicalProperty{gone, redirected, alive, flaky})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	byID := make(map[string]models.RemovalResult)
	for _, r := range results {
		byID[r.PropertyID] = r
	}
	if !byID[gone.PropertyID].Confirmed {
		t.Fatalf("404 should confirm removal")
	}
	if !byID[redirected.PropertyID].Confirmed {
		t.Fatalf("search redirect should confirm removal")
	}
	if byID[alive.PropertyID].Confirmed {
		t.Fatalf("200 must not confirm removal")
	}
	if byID[flaky.PropertyID].Confirmed {
		t.Fatalf("probe error must not confirm removal")
	}

	// Confirmed properties flip to removed in the canonical table.
	props, err := store.GetCanonicalByIDs(ctx, []string{gone.PropertyID, alive.PropertyID})
	if err != nil {
		t.Fatalf("load canonical: %v", err)
	}
	for _, p := range props {
		switch p.PropertyID {
		case gone.PropertyID:
			if p.ListingStatus != models.ListingStatusConfirmedRemoved || p.Status != models.StatusRemoved {
				t.Fatalf("expected confirmed_removed/removed, got %s/%s", p.ListingStatus, p.Status)
			}
		case alive.PropertyID:
			if p.Status != models.StatusActive {
				t.Fatalf("live property flipped to %s", p.Status)
			}
		}
	}
}

func TestDetectRelisted(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc := NewDiffService(store, &fakeProber{}, testConfig())

	seedCanonical(t, store, "pincali_5555555555555555", "https://x.test/p/back", 900000)
	now := time.Now()
	if err := store.MarkConfirmedRemoved(ctx, []string{"pincali_5555555555555555"}, now); err != nil {
		t.Fatalf("mark removed: %v", err)
	}

	// The property reappears on a scan.
	entries := []models.ManifestEntry{
		{PropertyID: "pincali_5555555555555555", SourceURL: "https://x.test/p/back", SeenInRunID: 12, FirstSeenAt: now, LastSeenAt: now},
	}
	if err := store.UpsertManifestEntries(ctx, entries); err != nil {
		t.Fatalf("upsert manifest: %v", err)
	}

	relisted, err := svc.DetectRelisted(ctx, 12)
	if err != nil {
		t.Fatalf("detect relisted: %v", err)
	}
	if len(relisted) != 1 || relisted[0] != "pincali_5555555555555555" {
		t.Fatalf("unexpected relisted %v", relisted)
	}

	props, err := store.GetCanonicalByIDs(ctx, relisted)
	if err != nil {
		t.Fatalf("load canonical: %v", err)
	}
	if len(props) != 1 || props[0].ListingStatus != models.ListingStatusRelisted || props[0].Status != models.StatusActive {
		t.Fatalf("relisted property not reactivated: %+v", props)
	}
}

func TestMaintainMissingCounts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc := NewDiffService(store, &fakeProber{}, testConfig())

	seedCanonical(t, store, "pincali_6666666666666666", "https://x.test/p/present", 800000)
	seedCanonical(t, store, "pincali_7777777777777777", "https://x.test/p/missing", 850000)

	now := time.Now()
	entries := []models.ManifestEntry{
		{PropertyID: "pincali_6666666666666666", SourceURL: "https://x.test/p/present", SeenInRunID: 20, FirstSeenAt: now, LastSeenAt: now},
	}
	if err := store.UpsertManifestEntries(ctx, entries); err != nil {
		t.Fatalf("upsert manifest: %v", err)
	}

	incremented, reset, err := svc.MaintainMissingCounts(ctx, 20, []string{""})
	if err != nil {
		t.Fatalf("maintain counts: %v", err)
	}
	if incremented != 1 {
		t.Fatalf("expected 1 incremented, got %d", incremented)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset, got %d", reset)
	}

	props, err := store.GetCanonicalByIDs(ctx, []string{"pincali_6666666666666666", "pincali_7777777777777777"})
	if err != nil {
		t.Fatalf("load canonical: %v", err)
	}
	for _, p := range props {
		switch p.PropertyID {
		case "pincali_6666666666666666":
			if p.ConsecutiveMissingCount != 0 {
				t.Fatalf("present property has missing count %d", p.ConsecutiveMissingCount)
			}
		case "pincali_7777777777777777":
			if p.ConsecutiveMissingCount != 1 {
				t.Fatalf("missing property has count %d, want 1", p.ConsecutiveMissingCount)
			}
		}
	}
}

func TestFindRemovalCandidates_Threshold(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	svc := NewDiffService(store, &fakeProber{}, testConfig())

	seedCanonical(t, store, "pincali_8888888888888888", "https://x.test/p/once", 700000)
	seedCanonical(t, store, "pincali_9999999999999999", "https://x.test/p/twice", 750000)

	// Two empty-manifest maintenance passes push both over the increment,
	// but only the one never reset crosses the threshold of 2.
	if _, _, err := svc.MaintainMissingCounts(ctx, 30, []string{""}); err != nil {
		t.Fatalf("pass 1: %v", err)
	}

	now := time.Now()
	entries := []models.ManifestEntry{
		{PropertyID: "pincali_8888888888888888", SourceURL: "https://x.test/p/once", SeenInRunID: 31, FirstSeenAt: now, LastSeenAt: now},
	}
	if err := store.UpsertManifestEntries(ctx, entries); err != nil {
		t.Fatalf("upsert manifest: %v", err)
	}
	if _, _, err := svc.MaintainMissingCounts(ctx, 31, []string{""}); err != nil {
		t.Fatalf("pass 2: %v", err)
	}

	candidates, err := svc.FindRemovalCandidates(ctx, 100)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].PropertyID != "pincali_9999999999999999" {
		t.Fatalf("unexpected candidates %v", candidates)
	}
}
