package sessions

import (
	"github.com/google/uuid"

	"github.com/ekinok/sessiond/internal/activitylog"
	"github.com/ekinok/sessiond/internal/identity"
	"github.com/ekinok/sessiond/internal/metadata"
	"github.com/ekinok/sessiond/internal/trusteddevice"
)

// perSessionActivityCap bounds the activity slice attached to each session in
// a list response. Deliberately tighter than the activity endpoint's own
// limit: the list payload covers every session at once.
const perSessionActivityCap = 10

// SessionWithDetails is the composed view the UI consumes: the session, its
// optional metadata, the trusted device matching its fingerprint (if any),
// and a small slice of recent activity. Metadata and device are nil rather
// than an error when absent; a session with no metadata renders as an
// unknown device.
type SessionWithDetails struct {
	Session          identity.Session             `json:"session"`
	Metadata         *metadata.SessionMetadata    `json:"metadata,omitempty"`
	TrustedDevice    *trusteddevice.TrustedDevice `json:"trusted_device,omitempty"`
	RecentActivity   []activitylog.Entry          `json:"recent_activity,omitempty"`
	IsCurrentSession bool                         `json:"is_current_session"`
}

// ActivityPage is one bounded page of a session's audit trail.
type ActivityPage struct {
	SessionID  uuid.UUID           `json:"session_id"`
	Activities []activitylog.Entry `json:"activities"`
	Total      int                 `json:"total"`
	// HasMore is approximate by design: it is true whenever the page came
	// back exactly full, even if nothing remains beyond it.
	HasMore bool `json:"has_more"`
}
