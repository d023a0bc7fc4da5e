package metadata

import (
	"time"

	"github.com/google/uuid"
)

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

// SessionMetadata is the one-to-one telemetry extension of a session:
// exactly one record per session id, created on the session's first tracked
// request and updated in place afterwards.
type SessionMetadata struct {
	SessionID         uuid.UUID  `json:"session_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	DeviceType        DeviceType `json:"device_type"`
	BrowserName       string     `json:"browser_name,omitempty"`
	BrowserVersion    string     `json:"browser_version,omitempty"`
	OSName            string     `json:"os_name,omitempty"`
	OSVersion         string     `json:"os_version,omitempty"`

	Country        string `json:"country,omitempty"`
	Region         string `json:"region,omitempty"`
	City           string `json:"city,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	ISPName        string `json:"isp_name,omitempty"`
	ConnectionType string `json:"connection_type,omitempty"`

	SecurityScore           int  `json:"security_score"`
	IsTrustedDevice         bool `json:"is_trusted_device"`
	SuspiciousActivityCount int  `json:"suspicious_activity_count"`

	LastActivityAt         time.Time `json:"last_activity_at"`
	PageViews              int64     `json:"page_views"`
	RequestCount           int64     `json:"request_count"`
	LastPage               string    `json:"last_page,omitempty"`
	SessionDurationSeconds int64     `json:"session_duration_seconds,omitempty"`
	IPAddress              string    `json:"ip_address,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
