package useragent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talenthub/flagkit/pkg/useragent"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		ua         string
		deviceType string
		platform   string
	}{
		{
			name:       "iPhone",
			ua:         "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148",
			deviceType: useragent.DeviceTypeMobile,
			platform:   useragent.PlatformIOS,
		},
		{
			name:       "iPad",
			ua:         "Mozilla/5.0 (iPad; CPU OS 16_5 like Mac OS X) AppleWebKit/605.1.15",
			deviceType: useragent.DeviceTypeTablet,
			platform:   useragent.PlatformIOS,
		},
		{
			name:       "AndroidPhone",
			ua:         "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36",
			deviceType: useragent.DeviceTypeMobile,
			platform:   useragent.PlatformAndroid,
		},
		{
			name:       "AndroidTablet",
			ua:         "Mozilla/5.0 (Linux; Android 13; SM-X200) AppleWebKit/537.36 Chrome/119.0 Safari/537.36",
			deviceType: useragent.DeviceTypeTablet,
			platform:   useragent.PlatformAndroid,
		},
		{
			name:       "WindowsDesktop",
			ua:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
			deviceType: useragent.DeviceTypeDesktop,
			platform:   useragent.PlatformWindows,
		},
		{
			name:       "MacDesktop",
			ua:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 Safari/605.1.15",
			deviceType: useragent.DeviceTypeDesktop,
			platform:   useragent.PlatformMacOS,
		},
		{
			name:       "Googlebot",
			ua:         "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			deviceType: useragent.DeviceTypeBot,
			platform:   useragent.PlatformUnknown,
		},
		{
			name:       "Empty",
			ua:         "",
			deviceType: useragent.DeviceTypeUnknown,
			platform:   useragent.PlatformUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ua := useragent.Parse(tt.ua)
			assert.Equal(t, tt.deviceType, ua.DeviceType())
			assert.Equal(t, tt.platform, ua.Platform())
			assert.Equal(t, tt.ua, ua.String())
		})
	}
}

func TestConveniencePredicates(t *testing.T) {
	t.Parallel()

	mobile := useragent.Parse("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148")
	assert.True(t, mobile.IsMobile())
	assert.False(t, mobile.IsDesktop())
	assert.False(t, mobile.IsTablet())
	assert.False(t, mobile.IsBot())
}
