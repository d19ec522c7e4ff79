package identity

import (
	"strings"
	"testing"
)

func TestFingerprint_Deterministic(t *testing.T) {
	url := "https://www.pincali.com/property/casa-en-venta-polanco-123"
	a := Fingerprint(url)
	b := Fingerprint(url)
	if a != b {
		t.Fatalf("same URL produced %s and %s", a, b)
	}
}

func TestFingerprint_Format(t *testing.T) {
	id := Fingerprint("https://www.pincali.com/property/depto-roma-norte")
	if !strings.HasPrefix(id, Tag) {
		t.Fatalf("expected prefix %s, got %s", Tag, id)
	}
	hash := strings.TrimPrefix(id, Tag)
	if len(hash) != 16 {
		t.Fatalf("expected 16 hash chars, got %d (%s)", len(hash), hash)
	}
	for _, c := range hash {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("non-hex char %q in %s", c, id)
		}
	}
}

func TestFingerprint_IgnoresQueryAndFragment(t *testing.T) {
	base := Fingerprint("https://www.pincali.com/property/casa-condesa")
	withQuery := Fingerprint("https://www.pincali.com/property/casa-condesa?utm_source=email&page=3")
	withFragment := Fingerprint("https://www.pincali.com/property/casa-condesa#gallery")
	if base != withQuery {
		t.Fatalf("query string changed fingerprint: %s vs %s", base, withQuery)
	}
	if base != withFragment {
		t.Fatalf("fragment changed fingerprint: %s vs %s", base, withFragment)
	}
}

func TestFingerprint_CaseAndTrailingSlash(t *testing.T) {
	a := Fingerprint("https://www.pincali.com/property/Casa-Condesa/")
	b := Fingerprint("HTTPS://WWW.PINCALI.COM/property/casa-condesa")
	if a != b {
		t.Fatalf("case/slash variants diverged: %s vs %s", a, b)
	}
}

func TestFingerprint_DistinctURLs(t *testing.T) {
	a := Fingerprint("https://www.pincali.com/property/casa-1")
	b := Fingerprint("https://www.pincali.com/property/casa-2")
	if a == b {
		t.Fatalf("distinct URLs collided: %s", a)
	}
}

func TestFingerprint_Empty(t *testing.T) {
	if id := Fingerprint(""); id != EmptyID {
		t.Fatalf("expected sentinel %s, got %s", EmptyID, id)
	}
	if id := Fingerprint("   "); id != EmptyID {
		t.Fatalf("expected sentinel for whitespace, got %s", id)
	}
}
