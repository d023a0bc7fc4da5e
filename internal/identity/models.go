package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Session is one authenticated login, created by the identity provider and
// refreshed on every authenticated request.
type Session struct {
	ID                   uuid.UUID  `json:"id"`
	UserID               uuid.UUID  `json:"user_id"`
	TokenHash            string     `json:"-"`
	IPAddress            string     `json:"ip_address,omitempty"`
	UserAgent            string     `json:"user_agent,omitempty"`
	ActiveOrganizationID *uuid.UUID `json:"active_organization_id,omitempty"`
	ImpersonatedBy       *uuid.UUID `json:"impersonated_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
}

func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// HashToken derives the at-rest form of a bearer token. Raw tokens are never
// persisted.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
