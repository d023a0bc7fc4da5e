package sessions

import (
	"math"
	"time"

	"github.com/ekinok/sessiond/internal/metadata"
)

// Signal is the trust-relevant slice of a single authenticated request.
type Signal struct {
	Fingerprint string
	IP          string
	Country     string
	BrowserName string
	OSName      string
	At          time.Time
}

// Scoring weights. The policy is a heuristic, not a guarantee: it must stay
// deterministic, clamp to [0,100], and never let a trusted-device match
// lower a score.
const (
	baselineScore      = 50
	trustedDeviceBonus = 25
	historyMatchBonus  = 10
	coldStartPenalty   = 15
	travelPenalty      = 20
	suspiciousUnit     = 8
	suspiciousCap      = 20

	// travelWindow bounds the impossible-travel heuristic: a country change
	// observed longer after the previous activity could be a real flight.
	travelWindow = 4 * time.Hour
)

// ComputeScore evaluates a session's security score from its previous
// metadata (the session's own record, or the user's most recent one for a
// brand-new session; nil when the user has no history at all), the current
// request signal, and whether the fingerprint matches an active trusted
// device. Pure and deterministic: same inputs, same score.
func ComputeScore(prev *metadata.SessionMetadata, sig Signal, trustedMatch bool) int {
	score := baselineScore

	if trustedMatch {
		score += trustedDeviceBonus
	}

	if prev == nil {
		// no history at all: cold start unless the device is trusted
		if !trustedMatch {
			score -= coldStartPenalty
		}
		return clampScore(score)
	}

	// corroborating history: same browser and OS as the previous record
	if sig.BrowserName != "" && sig.BrowserName == prev.BrowserName && sig.OSName == prev.OSName {
		score += historyMatchBonus
	}

	// a fingerprint the user's history has not seen, unless trust vouches for it
	if !trustedMatch && sig.Fingerprint != "" && prev.DeviceFingerprint != "" &&
		sig.Fingerprint != prev.DeviceFingerprint {
		score -= coldStartPenalty
	}

	if impossibleTravel(prev, sig) {
		score -= travelPenalty
	}

	score -= suspiciousPenalty(prev.SuspiciousActivityCount)

	return clampScore(score)
}

// impossibleTravel flags a country change too soon after the previous
// activity for plausible travel.
func impossibleTravel(prev *metadata.SessionMetadata, sig Signal) bool {
	if sig.Country == "" || prev.Country == "" || sig.Country == prev.Country {
		return false
	}
	if sig.At.IsZero() || prev.LastActivityAt.IsZero() {
		return false
	}
	return sig.At.Sub(prev.LastActivityAt) < travelWindow
}

// suspiciousPenalty decays logarithmically so one noisy signal cannot drive
// the score to the floor on its own.
func suspiciousPenalty(count int) int {
	if count <= 0 {
		return 0
	}
	penalty := int(float64(suspiciousUnit) * math.Log2(float64(count)+1))
	if penalty > suspiciousCap {
		penalty = suspiciousCap
	}
	return penalty
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
