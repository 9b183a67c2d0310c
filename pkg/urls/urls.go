// Package urls provides utility functions for working with media URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_content":  {},
	"utm_term":     {},
	"fbclid":       {},
	"gclid":        {},
	"ref":          {},
	"referrer":     {},
	"source":       {},
	"campaign":     {},
}

// IsURLValid checks if the given URL is an http(s) URL with a host.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// FixURL prepends https scheme to URL.
// Example: instagram.com/p/abc => https://instagram.com/p/abc
func FixURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}

	u, err := url.Parse(schemeHTTPS + "://" + strings.TrimLeft(raw, "/"))
	if err != nil || u.Host == "" {
		return raw
	}

	return u.String()
}

// Normalize trims spaces, parses and returns the URL in string format.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.String()
}

// Canonical is the form used for duplicate detection: normalized, with
// tracking parameters removed and short links expanded.
func Canonical(raw string) string {
	return ExpandShort(Clean(Normalize(raw)))
}

// Clean removes tracking query parameters, keeping the order of the rest.
func Clean(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	kept := make([]string, 0, strings.Count(u.RawQuery, "&")+1)

	for pair := range strings.SplitSeq(u.RawQuery, "&") {
		if pair == "" {
			continue
		}

		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}

		if _, drop := trackingParams[key]; drop {
			continue
		}

		kept = append(kept, pair)
	}

	u.RawQuery = strings.Join(kept, "&")

	return u.String()
}

// ExpandShort rewrites well-known short links to their canonical form.
func ExpandShort(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	switch {
	case host == "youtu.be":
		if id := strings.Trim(u.Path, "/"); id != "" {
			return "https://www.youtube.com/watch?v=" + id
		}
	case strings.HasSuffix(host, "youtube.com") && strings.HasPrefix(u.Path, "/shorts/"):
		if id := strings.Trim(strings.TrimPrefix(u.Path, "/shorts/"), "/"); id != "" {
			return "https://www.youtube.com/watch?v=" + id
		}
	case host == "instagr.am":
		u.Host = "instagram.com"

		return u.String()
	}

	return raw
}

// Hostname returns the lower-cased host without a leading "www.".
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
