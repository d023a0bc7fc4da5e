package trusteddevice

import (
	"time"

	"github.com/google/uuid"
)

type TrustLevel string

const (
	TrustLow    TrustLevel = "low"
	TrustMedium TrustLevel = "medium"
	TrustHigh   TrustLevel = "high"
)

func (l TrustLevel) Valid() bool {
	switch l {
	case TrustLow, TrustMedium, TrustHigh:
		return true
	}
	return false
}

// TrustedDevice is a device a user has marked, or earned, as trusted.
// Revocation deactivates the row instead of deleting it so the trust history
// stays auditable.
type TrustedDevice struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	DeviceName        string     `json:"device_name"`
	DeviceType        string     `json:"device_type"`
	TrustLevel        TrustLevel `json:"trust_level"`
	Active            bool       `json:"active"`
	FirstSeenAt       time.Time  `json:"first_seen_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	TrustedAt         time.Time  `json:"trusted_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether an optional expiry has passed.
func (d *TrustedDevice) IsExpired() bool {
	return d.ExpiresAt != nil && time.Now().After(*d.ExpiresAt)
}

// TrustParams is the input for creating or reactivating a trusted device.
type TrustParams struct {
	UserID      uuid.UUID
	Fingerprint string
	DeviceName  string
	DeviceType  string
	TrustLevel  TrustLevel
	ExpiresAt   *time.Time
}
