package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/SpencerMonger/PropScraper-sub000/identity"
	"github.com/SpencerMonger/PropScraper-sub000/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func TestParseListingPage_Basic(t *testing.T) {
	html := loadFixture(t, "listing_page.html")

	entries, err := ParseListingPage(html, "https://www.pincali.com/search/sale", models.OperationSale)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	// 5 tiles: one malformed (no link), one duplicate. 3 unique properties.
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	first := entries[0]
	wantID := identity.Fingerprint("https://www.pincali.com/property/casa-en-venta-polanco-3-recamaras")
	if first.PropertyID != wantID {
		t.Fatalf("expected id %s, got %s", wantID, first.PropertyID)
	}
	if first.SourceURL != "https://www.pincali.com/property/casa-en-venta-polanco-3-recamaras" {
		t.Fatalf("unexpected source URL %s", first.SourceURL)
	}
	if first.ListingPrice == nil || *first.ListingPrice != 12500000 {
		t.Fatalf("expected price 12500000, got %v", first.ListingPrice)
	}
	if first.ListingTitle == nil || *first.ListingTitle != "Casa en venta Polanco 3 recamaras" {
		t.Fatalf("unexpected title %v", first.ListingTitle)
	}
	if first.Latitude == nil || *first.Latitude != 19.432608 {
		t.Fatalf("expected latitude 19.432608, got %v", first.Latitude)
	}
	if first.OperationType != models.OperationSale {
		t.Fatalf("expected operation sale, got %s", first.OperationType)
	}
}

func TestParseListingPage_DuplicateKeepsRicherEntry(t *testing.T) {
	html := loadFixture(t, "listing_page.html")

	entries, err := ParseListingPage(html, "https://www.pincali.com/search/sale", models.OperationSale)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// The duplicate tile has no price or coordinates; the richer first
	// occurrence must win.
	for _, e := range entries {
		if e.SourceURL == "https://www.pincali.com/property/casa-en-venta-polanco-3-recamaras" {
			if e.ListingPrice == nil {
				t.Fatalf("duplicate clobbered the richer entry")
			}
			return
		}
	}
	t.Fatalf("expected polanco entry in results")
}

func TestParseListingPage_MissingPrice(t *testing.T) {
	html := loadFixture(t, "listing_page.html")

	entries, err := ParseListingPage(html, "https://www.pincali.com/search/sale", models.OperationSale)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	for _, e := range entries {
		if e.SourceURL == "https://www.pincali.com/property/terreno-sin-precio" {
			if e.ListingPrice != nil {
				t.Fatalf("expected nil price for unpriced listing, got %v", *e.ListingPrice)
			}
			return
		}
	}
	t.Fatalf("expected terreno entry in results")
}

func TestParseListingPage_EmptyPage(t *testing.T) {
	entries, err := ParseListingPage([]byte("<html><body></body></html>"), "https://www.pincali.com/search/sale", models.OperationSale)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestDetectTotalPages(t *testing.T) {
	html := loadFixture(t, "listing_page.html")
	if n := DetectTotalPages(html); n != 42 {
		t.Fatalf("expected 42 pages, got %d", n)
	}
	if n := DetectTotalPages([]byte("<html><body>no pagination</body></html>")); n != 0 {
		t.Fatalf("expected 0 for undetectable, got %d", n)
	}
}

func TestDetectTotalPages_LinksOnly(t *testing.T) {
	html := []byte(`<html><body><ul class="pagination">
		<a href="?page=1">1</a><a href="?page=2">2</a><a href="?page=17">17</a>
		<a href="?page=2">Next</a>
	</ul></body></html>`)
	if n := DetectTotalPages(html); n != 17 {
		t.Fatalf("expected 17 pages from links, got %d", n)
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,250,000 MXN", 1250000, true},
		{"$4,200,000", 4200000, true},
		{"USD 350,000", 350000, true},
		{"Consultar precio", 0, false},
		{"", 0, false},
		{"$0", 0, false},
	}
	for _, c := range cases {
		got, ok := ParsePrice(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("ParsePrice(%q) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}
