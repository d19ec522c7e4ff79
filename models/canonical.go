package models

import (
	"encoding/json"
	"time"
)

// Listing status (lifecycle of the listing itself)
const (
	ListingStatusActive           = "active"
	ListingStatusLikelyRemoved    = "likely_removed"
	ListingStatusConfirmedRemoved = "confirmed_removed"
	ListingStatusSold             = "sold"
	ListingStatusRelisted         = "relisted"
)

// Record status (coarse row state)
const (
	StatusActive   = "active"
	StatusRemoved  = "removed"
	StatusInactive = "inactive"
)

// CanonicalProperty is the authoritative record produced by a detail scrape
// and maintained by the diff detector.
type CanonicalProperty struct {
	PropertyID          string          `json:"property_id" db:"property_id"`
	SourceURL           string          `json:"source_url" db:"source_url"`
	Price               *float64        `json:"price" db:"price"`
	PriceAtLastManifest *float64        `json:"price_at_last_manifest" db:"price_at_last_manifest"`
	Title               string          `json:"title" db:"title"`
	Description         string          `json:"description" db:"description"`
	PropertyType        string          `json:"property_type" db:"property_type"`
	OperationType       string          `json:"operation_type" db:"operation_type"`
	Bedrooms            *int            `json:"bedrooms" db:"bedrooms"`
	Bathrooms           *int            `json:"bathrooms" db:"bathrooms"`
	AreaBuilt           *float64        `json:"area_built" db:"area_built"`
	AreaTotal           *float64        `json:"area_total" db:"area_total"`
	Address             string          `json:"address" db:"address"`
	Neighborhood        string          `json:"neighborhood" db:"neighborhood"`
	City                string          `json:"city" db:"city"`
	State               string          `json:"state" db:"state"`
	PostalCode          string          `json:"postal_code" db:"postal_code"`
	Latitude            *float64        `json:"latitude" db:"latitude"`
	Longitude           *float64        `json:"longitude" db:"longitude"`
	Amenities           []string        `json:"amenities" db:"amenities"`
	Features            []string        `json:"features" db:"features"`
	Images              []string        `json:"images" db:"images"`
	AgentName           string          `json:"agent_name" db:"agent_name"`
	AgentPhone          string          `json:"agent_phone" db:"agent_phone"`
	AgencyName          string          `json:"agency_name" db:"agency_name"`
	Extra               json.RawMessage `json:"extra" db:"extra"`

	ListingStatus           string     `json:"listing_status" db:"listing_status"`
	Status                  string     `json:"status" db:"status"`
	ConsecutiveMissingCount int        `json:"consecutive_missing_count" db:"consecutive_missing_count"`
	ScrapePriority          int        `json:"scrape_priority" db:"scrape_priority"`
	LastFullScrapeAt        *time.Time `json:"last_full_scrape_at" db:"last_full_scrape_at"`
	LastManifestSeenAt      *time.Time `json:"last_manifest_seen_at" db:"last_manifest_seen_at"`
	FirstSeenAt             time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt              time.Time  `json:"last_seen_at" db:"last_seen_at"`
	LastUpdatedAt           time.Time  `json:"last_updated_at" db:"last_updated_at"`
}

// ScrapedProperty is what a detail scraper returns. Nil/empty fields never
// clobber existing canonical values; slices replace wholesale.
type ScrapedProperty struct {
	PropertyID    string          `json:"property_id"`
	SourceURL     string          `json:"source_url"`
	Price         *float64        `json:"price"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	PropertyType  string          `json:"property_type"`
	OperationType string          `json:"operation_type"`
	Bedrooms      *int            `json:"bedrooms"`
	Bathrooms     *int            `json:"bathrooms"`
	AreaBuilt     *float64        `json:"area_built"`
	AreaTotal     *float64        `json:"area_total"`
	Address       string          `json:"address"`
	Neighborhood  string          `json:"neighborhood"`
	City          string          `json:"city"`
	State         string          `json:"state"`
	PostalCode    string          `json:"postal_code"`
	Latitude      *float64        `json:"latitude"`
	Longitude     *float64        `json:"longitude"`
	Amenities     []string        `json:"amenities"`
	Features      []string        `json:"features"`
	Images        []string        `json:"images"`
	AgentName     string          `json:"agent_name"`
	AgentPhone    string          `json:"agent_phone"`
	AgencyName    string          `json:"agency_name"`
	Extra         json.RawMessage `json:"extra"`
}
