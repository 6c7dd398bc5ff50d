// Package blob uploads captured screenshots to S3 under deterministic keys.
package blob

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxSanitizedURL bounds the sanitized-URL component of an object key.
const maxSanitizedURL = 50

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// DeriveKey computes the object key of a screenshot. The key is a pure
// function of its inputs, so concurrent workers handling the same request
// overwrite one object rather than accumulating duplicates:
//
//	screenshots/YYYY-MM-DD/<requestId>_<sanitized-url>.<format>
func DeriveKey(url, requestID, format string, now time.Time) string {
	return fmt.Sprintf("screenshots/%s/%s_%s.%s",
		now.UTC().Format("2006-01-02"), requestID, sanitizeURL(url), format)
}

// sanitizeURL strips the scheme, replaces every non-alphanumeric rune with an
// underscore, and truncates to 50 characters.
func sanitizeURL(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = nonAlphanumeric.ReplaceAllString(url, "_")
	if len(url) > maxSanitizedURL {
		url = url[:maxSanitizedURL]
	}
	return url
}

// ContentType maps an image format onto its MIME type.
func ContentType(format string) string {
	if format == "jpeg" {
		return "image/jpeg"
	}
	return "image/png"
}
