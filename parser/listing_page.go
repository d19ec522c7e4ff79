package parser

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/SpencerMonger/PropScraper-sub000/identity"
	"github.com/SpencerMonger/PropScraper-sub000/models"
)

const maxTitleLen = 500

var (
	priceDigits = regexp.MustCompile(`[\d][\d,\.]*`)
	pageOfTotal = regexp.MustCompile(`(?i)page\s+\d+\s+of\s+(\d+)`)
)

// Tile selectors, most specific first. Listing markup drifts; each scan tries
// them in order and uses the first that matches anything.
var tileSelectors = []string{
	"div.property-card",
	"article.property-item",
	"li.property-listing",
	"div[data-property-id]",
}

// ParseListingPage extracts one manifest entry per property tile from a
// listing page. pageURL resolves relative hrefs; operationType stamps every
// entry. Malformed tiles are skipped, never fatal for the page.
func ParseListingPage(html []byte, pageURL, operationType string) ([]models.ManifestEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(pageURL)
	now := time.Now()

	var tiles *goquery.Selection
	for _, sel := range tileSelectors {
		tiles = doc.Find(sel)
		if tiles.Length() > 0 {
			break
		}
	}
	if tiles == nil || tiles.Length() == 0 {
		// Fallback: any anchor that looks like a property detail link.
		return parseBareLinks(doc, base, operationType, now), nil
	}

	byID := make(map[string]models.ManifestEntry)
	var order []string

	tiles.Each(func(_ int, tile *goquery.Selection) {
		entry, ok := parseTile(tile, base, operationType, now)
		if !ok {
			return
		}
		if existing, seen := byID[entry.PropertyID]; seen {
			// Keep the richer entry; ties keep the first occurrence.
			if entry.FieldCount() > existing.FieldCount() {
				byID[entry.PropertyID] = entry
			}
			return
		}
		byID[entry.PropertyID] = entry
		order = append(order, entry.PropertyID)
	})

	entries := make([]models.ManifestEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, byID[id])
	}
	return entries, nil
}

func parseTile(tile *goquery.Selection, base *url.URL, operationType string, now time.Time) (models.ManifestEntry, bool) {
	href, ok := tile.Find("a[href]").First().Attr("href")
	if !ok || href == "" {
		return models.ManifestEntry{}, false
	}

	abs := resolveURL(base, href)
	if abs == "" {
		return models.ManifestEntry{}, false
	}

	entry := models.ManifestEntry{
		PropertyID:    identity.Fingerprint(abs),
		SourceURL:     abs,
		OperationType: operationType,
		FirstSeenAt:   now,
		LastSeenAt:    now,
	}

	if priceText := firstText(tile, ".property-price", ".price", "[data-price]"); priceText != "" {
		if p, ok := ParsePrice(priceText); ok {
			entry.ListingPrice = &p
		}
	}
	if entry.ListingPrice == nil {
		if raw, ok := tile.Attr("data-price"); ok {
			if p, ok := ParsePrice(raw); ok {
				entry.ListingPrice = &p
			}
		}
	}

	if title := firstText(tile, ".property-title", "h2", "h3"); title != "" {
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		entry.ListingTitle = &title
	}

	if lat, ok := floatAttr(tile, "data-lat", "data-latitude"); ok {
		entry.Latitude = &lat
	}
	if lng, ok := floatAttr(tile, "data-lng", "data-longitude"); ok {
		entry.Longitude = &lng
	}

	return entry, true
}

// parseBareLinks is the last-resort pass for pages whose tile markup we do
// not recognize: collect property detail anchors and emit minimal entries.
func parseBareLinks(doc *goquery.Document, base *url.URL, operationType string, now time.Time) []models.ManifestEntry {
	seen := make(map[string]bool)
	var entries []models.ManifestEntry

	doc.Find("a[href*='/property/'], a[href*='/propiedad'], a[href*='/inmueble']").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := resolveURL(base, href)
		if abs == "" {
			return
		}
		id := identity.Fingerprint(abs)
		if seen[id] {
			return
		}
		seen[id] = true
		entries = append(entries, models.ManifestEntry{
			PropertyID:    id,
			SourceURL:     abs,
			OperationType: operationType,
			FirstSeenAt:   now,
			LastSeenAt:    now,
		})
	})
	return entries
}

// DetectTotalPages reads the pagination summary ("Page 1 of N") or, failing
// that, the largest numeric pagination link. Returns 0 when undetectable.
func DetectTotalPages(html []byte) int {
	if m := pageOfTotal.FindSubmatch(html); len(m) > 1 {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > 0 {
			return n
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return 0
	}

	max := 0
	doc.Find(".pagination a, nav.pagination a, ul.pagination a").Each(func(_ int, a *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(a.Text())); err == nil && n > max {
			max = n
		}
	})
	return max
}

// ParsePrice strips currency symbols and separators from price text.
// "$1,250,000 MXN" -> 1250000.
func ParsePrice(text string) (float64, bool) {
	m := priceDigits.FindString(text)
	if m == "" {
		return 0, false
	}
	m = strings.ReplaceAll(m, ",", "")
	p, err := strconv.ParseFloat(m, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func floatAttr(s *goquery.Selection, names ...string) (float64, bool) {
	for _, name := range names {
		if raw, ok := s.Attr(name); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return base.ResolveReference(ref).String()
}
