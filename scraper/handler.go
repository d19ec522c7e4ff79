package scraper

import (
	"context"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
)

// Detail scrapes one property detail page into a full record.
type Detail interface {
	Scrape(ctx context.Context, url string) (*models.ScrapedProperty, error)
	Close()
}

// NewDetailScraper picks the handler configured in detail_handler. The HTTP
// handler is the default; the browser handler exists for pages that render
// client-side.
func NewDetailScraper(cfg *config.Config) Detail {
	switch cfg.DetailHandler {
	case "browser":
		return NewBrowserHandler(cfg)
	default:
		return NewHTTPHandler(cfg)
	}
}
