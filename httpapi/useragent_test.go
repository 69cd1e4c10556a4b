package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSniffOS(t *testing.T) {
	cases := map[string]string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)":                "Windows",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)":          "macOS",
		"Mozilla/5.0 (Linux; Android 13)":                          "Android",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)":   "iOS",
		"Mozilla/5.0 (X11; Linux x86_64)":                          "Linux",
		"curl/8.4.0":                                               "",
	}
	for ua, want := range cases {
		assert.Equal(t, want, sniffOS(ua), ua)
	}
}

func TestSniffPlatform(t *testing.T) {
	assert.Equal(t, "mobile", sniffPlatform("Mozilla/5.0 (Linux; Android 13; Mobile)"))
	assert.Equal(t, "api_client", sniffPlatform("curl/8.4.0"))
	assert.Equal(t, "api_client", sniffPlatform("python-requests/2.31"))
	assert.Equal(t, "desktop", sniffPlatform("Mozilla/5.0 (Windows NT 10.0; Win64; x64)"))
}
