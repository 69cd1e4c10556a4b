package httpapi

import "strings"

// sniffOS and sniffPlatform do a best-effort substring match against the
// handful of tokens worth distinguishing in the "active sessions" listing.
// This is deliberately not a full user-agent parser (see DESIGN.md).
func sniffOS(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "windows"):
		return "Windows"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad"):
		// Checked before macOS: iOS user agents carry "like Mac OS X".
		return "iOS"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macos"):
		return "macOS"
	case strings.Contains(lower, "android"):
		return "Android"
	case strings.Contains(lower, "linux"):
		return "Linux"
	default:
		return ""
	}
}

func sniffPlatform(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "mobile"):
		return "mobile"
	case strings.Contains(lower, "curl") || strings.Contains(lower, "okhttp") || strings.Contains(lower, "python"):
		return "api_client"
	default:
		return "desktop"
	}
}
