package models

import "time"

// Operation types stamped on every manifest entry by the listing source.
const (
	OperationSale            = "sale"
	OperationRent            = "rent"
	OperationForeclosure     = "foreclosure"
	OperationNewConstruction = "new_construction"
)

// ManifestEntry is one observation of a property on a listing page. It holds
// only what change detection needs; the full record lives in CanonicalProperty.
type ManifestEntry struct {
	PropertyID      string     `json:"property_id" db:"property_id"`
	SourceURL       string     `json:"source_url" db:"source_url"`
	ListingPrice    *float64   `json:"listing_price" db:"listing_price"`
	ListingTitle    *string    `json:"listing_title" db:"listing_title"`
	Latitude        *float64   `json:"latitude" db:"latitude"`
	Longitude       *float64   `json:"longitude" db:"longitude"`
	OperationType   string     `json:"operation_type" db:"operation_type"`
	IsNew           bool       `json:"is_new" db:"is_new"`
	PriceChanged    bool       `json:"price_changed" db:"price_changed"`
	NeedsFullScrape bool       `json:"needs_full_scrape" db:"needs_full_scrape"`
	FirstSeenAt     time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt      time.Time  `json:"last_seen_at" db:"last_seen_at"`
	SeenInRunID     int64      `json:"seen_in_run_id" db:"seen_in_run_id"`
}

// FieldCount returns how many optional fields are populated. Used when the
// same property shows up more than once in a scan: the richer entry wins.
func (e *ManifestEntry) FieldCount() int {
	n := 0
	if e.ListingPrice != nil {
		n++
	}
	if e.ListingTitle != nil && *e.ListingTitle != "" {
		n++
	}
	if e.Latitude != nil {
		n++
	}
	if e.Longitude != nil {
		n++
	}
	return n
}
