package identity

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
)

// Tag prefixes every property ID so rows from this ecosystem are
// recognizable in shared tables.
const Tag = "pincali_"

// EmptyID is returned for empty input so Fingerprint stays total.
const EmptyID = Tag + "0000000000000000"

// Fingerprint derives a stable property ID from a listing URL. Two URLs map
// to the same ID iff their normalized forms are byte-identical: lowercase
// scheme+host+path, query and fragment stripped, trailing slash trimmed.
// Price, title, and page position never participate.
func Fingerprint(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return EmptyID
	}

	normalized := normalize(rawURL)
	sum := md5.Sum([]byte(normalized))
	return Tag + hex.EncodeToString(sum[:])[:16]
}

func normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Unparseable: lowercase and strip anything query/fragment-like.
		s := strings.ToLower(rawURL)
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSuffix(s, "/")
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	path := strings.TrimSuffix(strings.ToLower(u.Path), "/")
	return scheme + "://" + host + path
}
