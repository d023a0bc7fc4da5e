package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUserAgent(t *testing.T) {
	t.Parallel()

	t.Run("desktop chrome", func(t *testing.T) {
		t.Parallel()
		out := ParseUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
		assert.Equal(t, "Chrome", out.BrowserName)
		assert.Equal(t, "Windows", out.OSName)
		assert.Equal(t, DeviceDesktop, out.DeviceType)
	})

	t.Run("iphone safari", func(t *testing.T) {
		t.Parallel()
		out := ParseUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1")
		assert.Equal(t, "Safari", out.BrowserName)
		assert.Equal(t, "iOS", out.OSName)
		assert.Equal(t, DeviceMobile, out.DeviceType)
	})

	t.Run("empty string degrades to unknown", func(t *testing.T) {
		t.Parallel()
		out := ParseUserAgent("")
		assert.Empty(t, out.BrowserName)
		assert.Equal(t, DeviceUnknown, out.DeviceType)
	})

	t.Run("garbage degrades to unknown device", func(t *testing.T) {
		t.Parallel()
		out := ParseUserAgent("definitely-not-a-browser/1.0")
		assert.Equal(t, DeviceUnknown, out.DeviceType)
	})
}
