package render

import "strings"

// NormalizeURL trims surrounding whitespace and prepends https:// when the
// URL carries no scheme.
func NormalizeURL(raw string) string {
	var url = strings.TrimSpace(raw)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	return url
}
