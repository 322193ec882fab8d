package useragent

import "strings"

// Device type classifications returned by Parse.
const (
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
	DeviceTypeDesktop = "desktop"
	DeviceTypeBot     = "bot"
	DeviceTypeUnknown = "unknown"
)

// Platform classifications returned by Parse.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWindows = "windows"
	PlatformMacOS   = "macos"
	PlatformLinux   = "linux"
	PlatformUnknown = "unknown"
)

// UserAgent holds the subset of user-agent information relevant for
// device and platform targeting.
type UserAgent struct {
	raw        string
	deviceType string
	platform   string
}

func (ua UserAgent) String() string     { return ua.raw }
func (ua UserAgent) DeviceType() string { return ua.deviceType }
func (ua UserAgent) Platform() string   { return ua.platform }

func (ua UserAgent) IsMobile() bool  { return ua.deviceType == DeviceTypeMobile }
func (ua UserAgent) IsTablet() bool  { return ua.deviceType == DeviceTypeTablet }
func (ua UserAgent) IsDesktop() bool { return ua.deviceType == DeviceTypeDesktop }
func (ua UserAgent) IsBot() bool     { return ua.deviceType == DeviceTypeBot }

type keywordSet []string

func (k keywordSet) matches(s string) bool {
	for _, keyword := range k {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}

var (
	botKeywords     = keywordSet{"bot", "spider", "crawler", "slurp", "lighthouse", "monitor", "scraper", "fetcher", "validator"}
	tabletKeywords  = keywordSet{"tablet", "kindle", "silk"}
	mobileKeywords  = keywordSet{"mobile", "iphone", "windows phone", "iemobile", "blackberry"}
	desktopKeywords = keywordSet{"windows", "macintosh", "mac os x", "x11", "linux", "cros"}
)

// Parse classifies a raw user-agent string. Classification is keyword based
// and intentionally coarse: targeting rules only need mobile/tablet/desktop
// and the platform family, not the exact browser build.
func Parse(raw string) UserAgent {
	lower := strings.ToLower(raw)
	return UserAgent{
		raw:        raw,
		deviceType: parseDeviceType(lower),
		platform:   parsePlatform(lower),
	}
}

// parseDeviceType checks iOS identifiers first since they are unambiguous,
// then uses the Android convention that tablets omit the "Mobile" token.
func parseDeviceType(lower string) string {
	if lower == "" {
		return DeviceTypeUnknown
	}
	if strings.Contains(lower, "ipad") {
		return DeviceTypeTablet
	}
	if strings.Contains(lower, "iphone") {
		return DeviceTypeMobile
	}
	if botKeywords.matches(lower) {
		return DeviceTypeBot
	}
	if strings.Contains(lower, "android") {
		if strings.Contains(lower, "mobile") {
			return DeviceTypeMobile
		}
		return DeviceTypeTablet
	}
	if tabletKeywords.matches(lower) {
		return DeviceTypeTablet
	}
	if mobileKeywords.matches(lower) {
		return DeviceTypeMobile
	}
	if desktopKeywords.matches(lower) {
		return DeviceTypeDesktop
	}
	return DeviceTypeUnknown
}

func parsePlatform(lower string) string {
	switch {
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"), strings.Contains(lower, "ios"):
		return PlatformIOS
	case strings.Contains(lower, "android"):
		return PlatformAndroid
	case strings.Contains(lower, "windows"):
		return PlatformWindows
	case strings.Contains(lower, "macintosh"), strings.Contains(lower, "mac os x"):
		return PlatformMacOS
	case strings.Contains(lower, "linux"), strings.Contains(lower, "x11"), strings.Contains(lower, "cros"):
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}
