package render

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	require.Equal(t, "https://example.com", NormalizeURL("example.com"))
	require.Equal(t, "https://example.com", NormalizeURL("  example.com \n"))
	require.Equal(t, "http://example.com", NormalizeURL("http://example.com"))
	require.Equal(t, "https://example.com", NormalizeURL("https://example.com"))
	// An unknown scheme is treated as a path and still gets https.
	require.Equal(t, "https://ftp://example.com", NormalizeURL("ftp://example.com"))
}
