package metadata

import (
	"strings"

	ua "github.com/mileusna/useragent"
)

// ParsedUA is the device/browser breakdown of a raw User-Agent string.
type ParsedUA struct {
	BrowserName    string
	BrowserVersion string
	OSName         string
	OSVersion      string
	DeviceType     DeviceType
}

// ParseUserAgent never fails: an empty or unrecognized string maps to
// unknown fields rather than an error.
func ParseUserAgent(userAgent string) ParsedUA {
	if userAgent == "" {
		return ParsedUA{DeviceType: DeviceUnknown}
	}

	parsed := ua.Parse(userAgent)

	out := ParsedUA{
		BrowserName:    strings.TrimSpace(parsed.Name),
		BrowserVersion: strings.TrimSpace(parsed.Version),
		OSName:         strings.TrimSpace(parsed.OS),
		OSVersion:      strings.TrimSpace(parsed.OSVersion),
		DeviceType:     DeviceUnknown,
	}
	switch {
	case parsed.Mobile:
		out.DeviceType = DeviceMobile
	case parsed.Tablet:
		out.DeviceType = DeviceTablet
	case parsed.Desktop:
		out.DeviceType = DeviceDesktop
	}
	return out
}
