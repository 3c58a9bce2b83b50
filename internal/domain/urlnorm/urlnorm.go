// Package urlnorm canonicalizes crawled URLs into deduplication keys.
//
// Two URLs that normalize to the same string are the same key for the
// membership filter, the shared seen cache, the store URL index and the
// analyzer's URL grouping.
package urlnorm

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/kailas-cloud/dedupd/internal/domain"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize returns the canonical form of raw.
//
//   - scheme and host are lower-cased, the default port is dropped
//   - the fragment is dropped
//   - dot segments and repeated slashes are resolved, an empty path becomes "/"
//     and a trailing slash on a non-root path is removed
//   - query parameters are sorted by key, then by value; an empty query is dropped
//   - a query pair that does not decode (";" separators, bad escapes) is kept verbatim
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url: %w", domain.ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w: %w", raw, domain.ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute: %w", raw, domain.ErrInvalidURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = normalizeHost(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	u.Path = normalizePath(u.Path)
	u.RawPath = ""

	u.RawQuery = normalizeQuery(u.RawQuery)
	u.ForceQuery = false

	return u.String(), nil
}

// Host returns the lower-cased host (without default port) of a URL, or "" if it cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return normalizeHost(strings.ToLower(u.Scheme), u.Host)
}

// Equal reports whether a and b normalize to the same key. Unparsable URLs are never equal.
func Equal(a, b string) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return na == nb
}

func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	if port, ok := defaultPorts[scheme]; ok {
		host = strings.TrimSuffix(host, ":"+port)
	}
	return host
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	// path.Clean already strips the trailing slash of non-root paths.
	return cleaned
}

type queryPair struct {
	key, value string
	text       string
}

// normalizeQuery rewrites each decodable pair in canonical escaping and keeps the rest verbatim,
// so that distinct queries never collapse into one key.
func normalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	var pairs []queryPair
	for _, seg := range strings.Split(raw, "&") {
		if seg == "" {
			continue
		}
		pairs = append(pairs, parsePair(seg))
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		if pairs[i].value != pairs[j].value {
			return pairs[i].value < pairs[j].value
		}
		return pairs[i].text < pairs[j].text
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.text)
	}
	return b.String()
}

func parsePair(seg string) queryPair {
	rawKey, rawValue, _ := strings.Cut(seg, "=")
	verbatim := queryPair{key: rawKey, value: rawValue, text: seg}
	if strings.Contains(seg, ";") {
		return verbatim
	}
	key, err := url.QueryUnescape(rawKey)
	if err != nil {
		return verbatim
	}
	value, err := url.QueryUnescape(rawValue)
	if err != nil {
		return verbatim
	}
	return queryPair{key: key, value: value, text: url.QueryEscape(key) + "=" + url.QueryEscape(value)}
}
