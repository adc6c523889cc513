package logic

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/patrickwarner/addelivery/internal/geoip"
)

func TestDeviceFromUA(t *testing.T) {
	tests := []struct {
		name            string
		ua              string
		expectedDevice  string
		expectedOS      string
		expectedBrowser string
		expectedIsBot   bool
	}{
		{
			name:            "Windows Chrome",
			ua:              "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36",
			expectedDevice:  "desktop",
			expectedOS:      "Windows 10", // uasurfer might give "Windows 10" or just "Windows"
			expectedBrowser: "Chrome",     // uasurfer might give "Chrome 100"
			expectedIsBot:   false,
		},
		{
			name:            "Mac Safari",
			ua:              "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Safari/605.1.15",
			expectedDevice:  "desktop",
			expectedOS:      "OSX", // uasurfer outputs OSMacOSX
			expectedBrowser: "Safari",
			expectedIsBot:   false,
		},
		{
			name:            "iPhone Safari",
			ua:              "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15",
			expectedDevice:  "mobile",
			expectedOS:      "iOS", // uasurfer might give "iOS 15.0"
			expectedBrowser: "Safari",
			expectedIsBot:   false,
		},
		{
			name:            "Android Chrome",
			ua:              "Mozilla/5.0 (Linux; Android 11; SM-G975F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.58 Mobile Safari/537.36",
			expectedDevice:  "mobile",
			expectedOS:      "Android", // uasurfer might give "Android 11"
			expectedBrowser: "Chrome",
			expectedIsBot:   false,
		},
		{
			name:            "iPad Safari",
			ua:              "Mozilla/5.0 (iPad; CPU OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15",
			expectedDevice:  "tablet",
			expectedOS:      "iOS", // uasurfer might give "iPadOS 15.0" or "iOS 15.0"
			expectedBrowser: "Safari",
			expectedIsBot:   false,
		},
		{
			name:            "Googlebot",
			ua:              "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			expectedDevice:  "desktop",   // uasurfer identifies Googlebot as DeviceDesktop
			expectedOS:      "Bot",       // uasurfer OSBot
			expectedBrowser: "GoogleBot", // uasurfer BrowserGoogleBot
			expectedIsBot:   true,
		},
		{
			name:            "Empty UA",
			ua:              "",
			expectedDevice:  "other", // Default from uasurfer
			expectedOS:      "Unknown",
			expectedBrowser: "Unknown",
			expectedIsBot:   false,
		},
		{
			name:            "Bogus UA",
			ua:              "completely-bogus-ua-string-12345",
			expectedDevice:  "other", // Default from uasurfer
			expectedOS:      "Unknown",
			expectedBrowser: "Unknown",
			expectedIsBot:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := DeviceFromUA(tc.ua)

			if ctx.DeviceType != tc.expectedDevice {
				t.Errorf("DeviceType: expected '%s', got '%s'", tc.expectedDevice, ctx.DeviceType)
			}
			// For OS and Browser, uasurfer can be very specific with versions.
			// We'll check if the expected name is contained in the result.
			if !strings.Contains(ctx.OS, tc.expectedOS) {
				t.Errorf("OS: expected to contain '%s', got '%s'", tc.expectedOS, ctx.OS)
			}
			if !strings.Contains(ctx.Browser, tc.expectedBrowser) {
				t.Errorf("Browser: expected to contain '%s', got '%s'", tc.expectedBrowser, ctx.Browser)
			}
			if ctx.IsBot != tc.expectedIsBot {
				t.Errorf("IsBot: expected %t, got %t", tc.expectedIsBot, ctx.IsBot)
			}
		})
	}
}

func TestResolveDevice(t *testing.T) {
	g, err := geoip.FromRanges(strings.NewReader(`[{"net": "10.0.0.0/8", "country": "US"}]`))
	if err != nil {
		t.Fatalf("geoip: %v", err)
	}
	ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15"
	client := map[string]any{"screen": "390x844"}

	info := ResolveDevice(g, ua, "10.1.1.1", client)
	if info.DeviceType != "mobile" || info.Country != "US" || info.Client["screen"] != "390x844" {
		t.Fatalf("unexpected device info %+v", info)
	}

	info = ResolveDevice(nil, ua, "10.1.1.1", nil)
	if info.Country != "" || info.Client != nil {
		t.Fatalf("expected no country and no client data, got %+v", info)
	}
}

func TestClientIP(t *testing.T) {
	resolver, err := NewIPResolver([]string{"10.0.0.0/8", "192.168.1.1"})
	if err != nil {
		t.Fatalf("NewIPResolver: %v", err)
	}
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain via proxy", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:5555", "203.0.113.7"},
		{"spoofed hop ahead of client", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7"}, "10.0.0.2:5555", "203.0.113.7"},
		{"single trusted proxy", map[string]string{"X-Forwarded-For": "203.0.113.8"}, "192.168.1.1:80", "203.0.113.8"},
		{"real ip via proxy", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:5555", "198.51.100.4"},
		{"headers from untrusted peer ignored", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.4"}, "192.0.2.1:1234", "192.0.2.1"},
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/ads/impression", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := resolver.ClientIP(r); got != tt.want {
				t.Fatalf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPWithoutTrustedProxies(t *testing.T) {
	r := httptest.NewRequest("POST", "/ads/impression", nil)
	r.RemoteAddr = "192.0.2.9:4000"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	var nilResolver *IPResolver
	if got := nilResolver.ClientIP(r); got != "192.0.2.9" {
		t.Fatalf("nil resolver ClientIP = %q", got)
	}
	empty, err := NewIPResolver(nil)
	if err != nil {
		t.Fatalf("NewIPResolver: %v", err)
	}
	if got := empty.ClientIP(r); got != "192.0.2.9" {
		t.Fatalf("empty resolver ClientIP = %q", got)
	}
}

func TestNewIPResolverRejectsGarbage(t *testing.T) {
	if _, err := NewIPResolver([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected error for bad proxy")
	}
	if _, err := NewIPResolver([]string{"10.0.0.0/99"}); err == nil {
		t.Fatalf("expected error for bad cidr")
	}
}
