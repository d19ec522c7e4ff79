package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const headTimeout = 10 * time.Second

// Client wraps the two HTTP shapes the sync engine needs: listing-page GETs
// (redirects followed) and removal-verification HEADs (redirects surfaced).
type Client struct {
	get       *http.Client
	head      *http.Client
	userAgent string
	referer   string
}

func NewClient(userAgent, baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		get: &http.Client{Timeout: timeout},
		head: &http.Client{
			Timeout: headTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
		referer:   baseURL,
	}
}

// Get fetches a listing page and returns status and body. A non-2xx status is
// not an error; callers decide how to treat it.
func (c *Client) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.get.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// Head probes a property URL without following redirects. Returns the status
// code and the Location header (empty unless a redirect).
func (c *Client) Head(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.head.Do(req)
	if err != nil {
		return 0, "", err
	}
	resp.Body.Close()

	return resp.StatusCode, resp.Header.Get("Location"), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,es;q=0.8")
	// Accept-Encoding is left to the transport so gzip is decoded for us.
	req.Header.Set("Connection", "keep-alive")
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
}
