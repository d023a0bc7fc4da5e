package activitylog

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit applies when a caller asks for recent entries without a
	// limit.
	DefaultLimit = 50
	// MaxLimit is the hard retrieval cap; larger requests are clamped, never
	// rejected.
	MaxLimit = 100
)

// Entry is one immutable audit record. Entries are written once and never
// updated or deleted by normal operation.
type Entry struct {
	ID             int64          `json:"id"`
	SessionID      uuid.UUID      `json:"session_id"`
	UserID         uuid.UUID      `json:"user_id"`
	ActivityType   string         `json:"activity_type"`
	Details        map[string]any `json:"details,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	RequestPath    string         `json:"request_path,omitempty"`
	RequestMethod  string         `json:"request_method,omitempty"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ResponseTimeMS int64          `json:"response_time_ms,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ClampLimit normalizes a caller-supplied limit into [1, MaxLimit], with
// DefaultLimit for zero or negative input.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
