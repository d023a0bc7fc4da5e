package httpx

import (
	"net/http"
	"time"

	"github.com/ekinok/sessiond/pkg/clientip"
	"github.com/ekinok/sessiond/pkg/fingerprint"
)

// RequestMeta is the per-request snapshot handed to the telemetry pipeline.
// It is captured once, before the handler runs, so the async write path never
// touches the (by then possibly recycled) *http.Request.
type RequestMeta struct {
	IP          string
	IPSource    clientip.Source
	UserAgent   string
	Fingerprint string
	Signal      fingerprint.Signal
	Path        string
	Method      string

	// Filled in after the handler completes.
	Status     int
	DurationMS int64

	At time.Time
}

// CaptureMeta derives the request metadata, trusting sessionIP over headers.
// Never fails: a request with no usable signal produces the Unknown
// fingerprint and the fallback address.
func CaptureMeta(sessionIP string, r *http.Request) RequestMeta {
	resolved := clientip.Resolve(sessionIP, r)
	sig := fingerprint.FromRequest(r)

	meta := RequestMeta{
		IP:          resolved.IP,
		IPSource:    resolved.Source,
		UserAgent:   "",
		Fingerprint: fingerprint.Hash(sig),
		Signal:      sig,
		At:          time.Now(),
	}
	if r != nil {
		meta.UserAgent = r.UserAgent()
		meta.Path = r.URL.Path
		meta.Method = r.Method
	}
	return meta
}
