package services

import (
	"context"
	"fmt"
	"time"

	"github.com/SpencerMonger/PropScraper-sub000/models"
	"github.com/SpencerMonger/PropScraper-sub000/storage"
)

// CanonicalService turns detail-scrape results into canonical records.
type CanonicalService struct {
	store storage.Store
}

func NewCanonicalService(store storage.Store) *CanonicalService {
	return &CanonicalService{store: store}
}

// UpsertFromScrape merges a scraped property into the canonical table. The
// store-level merge keeps existing values where the scrape came back empty; a
// successful scrape always resets the missing counter and stamps freshness.
func (s *CanonicalService) UpsertFromScrape(ctx context.Context, propertyID string, scraped *models.ScrapedProperty) error {
	if scraped == nil {
		return fmt.Errorf("nil scrape result for %s", propertyID)
	}
	if scraped.PropertyID != "" {
		// The scraper fingerprints the final URL, which wins over the queued
		// id when a listing moved.
		propertyID = scraped.PropertyID
	}

	now := time.Now()
	p := &models.CanonicalProperty{
		PropertyID:    propertyID,
		SourceURL:     scraped.SourceURL,
		Price:         scraped.Price,
		Title:         scraped.Title,
		Description:   scraped.Description,
		PropertyType:  scraped.PropertyType,
		OperationType: scraped.OperationType,
		Bedrooms:      scraped.Bedrooms,
		Bathrooms:     scraped.Bathrooms,
		AreaBuilt:     scraped.AreaBuilt,
		AreaTotal:     scraped.AreaTotal,
		Address:       scraped.Address,
		Neighborhood:  scraped.Neighborhood,
		City:          scraped.City,
		State:         scraped.State,
		PostalCode:    scraped.PostalCode,
		Latitude:      scraped.Latitude,
		Longitude:     scraped.Longitude,
		Amenities:     scraped.Amenities,
		Features:      scraped.Features,
		Images:        scraped.Images,
		AgentName:     scraped.AgentName,
		AgentPhone:    scraped.AgentPhone,
		AgencyName:    scraped.AgencyName,
		Extra:         scraped.Extra,

		ListingStatus:      models.ListingStatusActive,
		Status:             models.StatusActive,
		ScrapePriority:     3,
		LastFullScrapeAt:   &now,
		LastManifestSeenAt: &now,
		FirstSeenAt:        now,
		LastSeenAt:         now,
		LastUpdatedAt:      now,
	}

	if err := s.store.UpsertCanonicalFromScrape(ctx, p); err != nil {
		return fmt.Errorf("upsert canonical %s: %w", propertyID, err)
	}
	return nil
}
