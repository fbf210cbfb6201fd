package useragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	chromeWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	edgeWindowsUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
	operaLinuxUA    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 OPR/106.0.0.0"
	safariMacUA     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	firefoxUA       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"
	iphoneUA        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	ipadUA          = "Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	androidPhoneUA  = "Mozilla/5.0 (Linux; Android 14; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	androidTabletUA = "Mozilla/5.0 (Linux; Android 14; SM-X910) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want Info
	}{
		{"chrome on windows", chromeWindowsUA, Info{DeviceType: DeviceDesktop, Browser: "Chrome", OperatingSystem: "Windows"}},
		{"edge embeds chrome", edgeWindowsUA, Info{DeviceType: DeviceDesktop, Browser: "Edge", OperatingSystem: "Windows"}},
		{"opera embeds chrome", operaLinuxUA, Info{DeviceType: DeviceDesktop, Browser: "Opera", OperatingSystem: "Linux"}},
		{"chrome embeds safari", safariMacUA, Info{DeviceType: DeviceDesktop, Browser: "Safari", OperatingSystem: "macOS"}},
		{"firefox", firefoxUA, Info{DeviceType: DeviceDesktop, Browser: "Firefox", OperatingSystem: "Windows"}},
		{"iphone is mobile", iphoneUA, Info{DeviceType: DeviceMobile, Browser: "Safari", OperatingSystem: "iOS"}},
		{"ipad is tablet", ipadUA, Info{DeviceType: DeviceTablet, Browser: "Safari", OperatingSystem: "iOS"}},
		{"android phone", androidPhoneUA, Info{DeviceType: DeviceMobile, Browser: "Chrome", OperatingSystem: "Android"}},
		{"android without mobile token is tablet", androidTabletUA, Info{DeviceType: DeviceTablet, Browser: "Chrome", OperatingSystem: "Android"}},
		{"empty user agent", "", Info{DeviceType: DeviceDesktop, Browser: "Unknown", OperatingSystem: "Unknown"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ua))
		})
	}
}

func TestDetect(t *testing.T) {
	t.Run("classifies with the rule set", func(t *testing.T) {
		info := Detect(chromeWindowsUA)
		assert.Equal(t, "Chrome", info.Browser)
		assert.Equal(t, "Windows", info.OperatingSystem)
		assert.Equal(t, DeviceDesktop, info.DeviceType)
	})

	t.Run("mobile devices", func(t *testing.T) {
		info := Detect(iphoneUA)
		assert.Equal(t, DeviceMobile, info.DeviceType)
		assert.Equal(t, "iOS", info.OperatingSystem)
	})

	t.Run("empty string gets desktop defaults", func(t *testing.T) {
		assert.Equal(t, Info{DeviceType: DeviceDesktop, Browser: "Unknown", OperatingSystem: "Unknown"}, Detect(""))
	})

	t.Run("unplaceable strings fall back to the heuristic", func(t *testing.T) {
		info := Detect("definitely-not-a-browser")
		assert.Equal(t, DeviceDesktop, info.DeviceType)
	})
}
