package scraper

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/SpencerMonger/PropScraper-sub000/identity"
	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/parser"
)

// extractProperty pulls a full record out of a detail page document. finalURL
// is the URL after redirects; its fingerprint is the record's identity. Both
// handlers funnel through here so HTTP and browser scrapes produce the same
// shape.
func extractProperty(doc *goquery.Document, finalURL string) *models.ScrapedProperty {
	p := &models.ScrapedProperty{
		PropertyID: identity.Fingerprint(finalURL),
		SourceURL:  finalURL,
	}

	if text := firstText(doc, ".property-price", ".price", "[itemprop='price']"); text != "" {
		if v, ok := parser.ParsePrice(text); ok {
			p.Price = &v
		}
	}
	if meta, ok := doc.Find("meta[itemprop='price'], meta[property='product:price:amount']").First().Attr("content"); ok && p.Price == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(meta), 64); err == nil && v > 0 {
			p.Price = &v
		}
	}

	p.Title = firstText(doc, "h1.property-title", "h1[itemprop='name']", "h1")
	p.Description = firstText(doc, ".property-description", "[itemprop='description']", "#description")
	p.PropertyType = firstText(doc, ".property-type", "[data-property-type]")
	p.OperationType = normalizeOperation(firstText(doc, ".operation-type", "[data-operation-type]"))

	p.Bedrooms = intFeature(doc, ".bedrooms", "[data-bedrooms]", "[itemprop='numberOfRooms']")
	p.Bathrooms = intFeature(doc, ".bathrooms", "[data-bathrooms]")
	p.AreaBuilt = floatFeature(doc, ".area-built", "[data-area-built]")
	p.AreaTotal = floatFeature(doc, ".area-total", "[data-area-total]", "[itemprop='floorSize']")

	p.Address = firstText(doc, ".property-address", "[itemprop='streetAddress']")
	p.Neighborhood = firstText(doc, ".neighborhood", "[data-neighborhood]")
	p.City = firstText(doc, ".city", "[itemprop='addressLocality']")
	p.State = firstText(doc, ".state", "[itemprop='addressRegion']")
	p.PostalCode = firstText(doc, ".postal-code", "[itemprop='postalCode']")

	if lat, lng, ok := extractCoordinates(doc); ok {
		p.Latitude = &lat
		p.Longitude = &lng
	}

	p.Amenities = collectList(doc, ".amenities li, ul.amenities-list li")
	p.Features = collectList(doc, ".features li, ul.features-list li")
	p.Images = collectImages(doc)

	p.AgentName = firstText(doc, ".agent-name", "[itemprop='agent']")
	p.AgentPhone = firstText(doc, ".agent-phone", "a[href^='tel:']")
	p.AgencyName = firstText(doc, ".agency-name", ".broker-name")

	if extra := extractJSONLD(doc); extra != nil {
		p.Extra = extra
	}
	return p
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func intFeature(doc *goquery.Document, selectors ...string) *int {
	for _, sel := range selectors {
		t := strings.TrimSpace(doc.Find(sel).First().Text())
		if t == "" {
			continue
		}
		if n := leadingInt(t); n > 0 {
			return &n
		}
	}
	return nil
}

func floatFeature(doc *goquery.Document, selectors ...string) *float64 {
	for _, sel := range selectors {
		t := strings.TrimSpace(doc.Find(sel).First().Text())
		if t == "" {
			continue
		}
		if v, ok := parser.ParsePrice(t); ok {
			return &v
		}
	}
	return nil
}

// leadingInt reads digits from the front of a string like "3 recámaras".
func leadingInt(s string) int {
	n := 0
	started := false
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
			started = true
		} else if started {
			break
		}
	}
	return n
}

func extractCoordinates(doc *goquery.Document) (float64, float64, bool) {
	sel := doc.Find("[data-lat][data-lng], [data-latitude][data-longitude], #property-map").First()
	if sel.Length() == 0 {
		return 0, 0, false
	}
	latRaw, _ := sel.Attr("data-lat")
	if latRaw == "" {
		latRaw, _ = sel.Attr("data-latitude")
	}
	lngRaw, _ := sel.Attr("data-lng")
	if lngRaw == "" {
		lngRaw, _ = sel.Attr("data-longitude")
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(lngRaw), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

func collectList(doc *goquery.Document, selector string) []string {
	var items []string
	seen := make(map[string]bool)
	doc.Find(selector).Each(func(_ int, li *goquery.Selection) {
		t := strings.TrimSpace(li.Text())
		if t != "" && !seen[t] {
			seen[t] = true
			items = append(items, t)
		}
	})
	return items
}

func collectImages(doc *goquery.Document) []string {
	var urls []string
	seen := make(map[string]bool)
	doc.Find(".property-gallery img, .gallery img, [data-gallery] img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("data-src")
		if !ok || src == "" {
			src, _ = img.Attr("src")
		}
		if src != "" && !seen[src] && !strings.HasPrefix(src, "data:") {
			seen[src] = true
			urls = append(urls, src)
		}
	})
	return urls
}

// extractJSONLD keeps the page's structured data blob verbatim. Downstream
// consumers mine it for fields the selectors miss.
func extractJSONLD(doc *goquery.Document) json.RawMessage {
	var raw json.RawMessage
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" || !json.Valid([]byte(text)) {
			return true
		}
		raw = json.RawMessage(text)
		return false
	})
	return raw
}

func normalizeOperation(text string) string {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "sale", "venta", "for sale":
		return models.OperationSale
	case "rent", "renta", "for rent":
		return models.OperationRent
	case "foreclosure", "remate":
		return models.OperationForeclosure
	case "new construction", "preventa":
		return models.OperationNewConstruction
	default:
		return ""
	}
}
