// Package fingerprint derives a stable identifier for a device/browser
// combination from request metadata. Fingerprinting is best-effort: it never
// errors and never performs I/O, so it can sit on the hot request path.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	version = "v1:"
	// hashLen keeps 16 of sha256's 32 bytes. 128 bits is plenty for
	// distinguishing devices and halves the stored footprint.
	hashLen = 16
)

// Signal carries the low-entropy request attributes a fingerprint is derived
// from. IP is deliberately absent: mobile networks and VPNs rotate addresses
// too often for it to be a stable device trait.
type Signal struct {
	UserAgent       string
	AcceptLanguage  string
	SecChUA         string
	SecChUAPlatform string
}

// Unknown is the fingerprint reported when no usable signal is present.
// Missing or malformed input degrades to this constant instead of an error.
var Unknown = hash(nil)

// FromRequest snapshots the fingerprint-relevant attributes of r.
// A nil request yields the zero Signal, which hashes to Unknown.
func FromRequest(r *http.Request) Signal {
	if r == nil {
		return Signal{}
	}
	return Signal{
		UserAgent:       r.UserAgent(),
		AcceptLanguage:  r.Header.Get("Accept-Language"),
		SecChUA:         r.Header.Get("Sec-CH-UA"),
		SecChUAPlatform: r.Header.Get("Sec-CH-UA-Platform"),
	}
}

// Hash produces the deterministic fingerprint for sig, formatted "v1:<hex>".
// The same signal always produces the same fingerprint; empty components are
// dropped before hashing so a missing optional header does not shift the rest.
func Hash(sig Signal) string {
	components := make([]string, 0, 4)
	for _, c := range []string{sig.UserAgent, sig.AcceptLanguage, sig.SecChUA, sig.SecChUAPlatform} {
		if c != "" {
			components = append(components, c)
		}
	}
	return hash(components)
}

// hash joins components with a pipe so ["ab","c"] and ["a","bc"] cannot
// collide, then truncates the digest.
func hash(components []string) string {
	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return version + hex.EncodeToString(sum[:hashLen])
}
