package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/SpencerMonger/PropScraper-sub000/config"
	"github.com/SpencerMonger/PropScraper-sub000/models"
)

// HTTPHandler scrapes detail pages with plain GETs. Redirects are followed
// and the final URL becomes the record's identity, so a moved listing lands
// under its new fingerprint.
type HTTPHandler struct {
	client    *http.Client
	userAgent string
	referer   string
}

func NewHTTPHandler(cfg *config.Config) *HTTPHandler {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPHandler{
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		referer:   cfg.BaseURL,
	}
}

func (h *HTTPHandler) Scrape(ctx context.Context, url string) (*models.ScrapedProperty, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if h.referer != "" {
		req.Header.Set("Referer", h.referer)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("property gone: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, 5<<20)
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	p := extractProperty(doc, finalURL)
	if p.Title == "" && p.Price == nil {
		return nil, fmt.Errorf("no property data found at %s", finalURL)
	}
	return p, nil
}

func (h *HTTPHandler) Close() {}
