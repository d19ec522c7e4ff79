package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("user agent not set: %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := NewClient("test-agent", srv.URL, 5*time.Second)
	ctx := context.Background()

	status, body, err := c.Get(ctx, srv.URL+"/page")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if status != 200 || string(body) != "<html>ok</html>" {
		t.Fatalf("unexpected response %d %q", status, body)
	}

	// Non-2xx is a result, not an error.
	status, _, err = c.Get(ctx, srv.URL+"/missing")
	if err != nil {
		t.Fatalf("404 should not error: %v", err)
	}
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestHead_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/moved":
			http.Redirect(w, r, "/search?op=sale", http.StatusMovedPermanently)
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient("test-agent", srv.URL, 5*time.Second)
	ctx := context.Background()

	status, location, err := c.Head(ctx, srv.URL+"/moved")
	if err != nil {
		t.Fatalf("head failed: %v", err)
	}
	if status != http.StatusMovedPermanently {
		t.Fatalf("redirect must be surfaced, got %d", status)
	}
	if location != "/search?op=sale" {
		t.Fatalf("unexpected location %q", location)
	}

	status, _, err = c.Head(ctx, srv.URL+"/gone")
	if err != nil {
		t.Fatalf("head failed: %v", err)
	}
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}

	status, location, err = c.Head(ctx, srv.URL+"/live")
	if err != nil || status != http.StatusOK || location != "" {
		t.Fatalf("unexpected live probe %d %q %v", status, location, err)
	}
}
