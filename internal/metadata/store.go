package metadata

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekinok/sessiond/internal/geo"
	"github.com/ekinok/sessiond/internal/httpx"
)

// Store fronts the metadata repo with the optional cache and the optional
// geo resolver. All mutations invalidate the cached entry; reads go through
// the cache.
type Store struct {
	repo  MetadataRepo
	cache *Cache
	geo   *geo.Resolver
}

func NewStore(repo MetadataRepo, cache *Cache, resolver *geo.Resolver) *Store {
	return &Store{repo: repo, cache: cache, geo: resolver}
}

// Build assembles a fresh metadata record for a session's first tracked
// request: UA breakdown, resolved IP, geo enrichment when available. The
// security score is supplied by the caller (the scoring policy does not live
// here).
func (s *Store) Build(sessionID uuid.UUID, meta httpx.RequestMeta, score int, trusted bool) *SessionMetadata {
	parsed := ParseUserAgent(meta.UserAgent)
	m := &SessionMetadata{
		SessionID:         sessionID,
		DeviceFingerprint: meta.Fingerprint,
		DeviceType:        parsed.DeviceType,
		BrowserName:       parsed.BrowserName,
		BrowserVersion:    parsed.BrowserVersion,
		OSName:            parsed.OSName,
		OSVersion:         parsed.OSVersion,
		SecurityScore:     score,
		IsTrustedDevice:   trusted,
		IPAddress:         meta.IP,
		LastPage:          meta.Path,
	}
	if info, ok := s.Locate(meta.IP); ok {
		m.Country = info.Country
		m.Region = info.Region
		m.City = info.City
		m.Timezone = info.Timezone
		m.ISPName = info.ISP
		m.ConnectionType = info.ConnectionType
	}
	return m
}

// Locate enriches an address via the configured geo databases; a miss is
// normal and not an error.
func (s *Store) Locate(ip string) (geo.Info, bool) {
	return s.geo.Lookup(ip)
}

func (s *Store) Get(ctx context.Context, sessionID uuid.UUID) (*SessionMetadata, error) {
	if m := s.cache.Get(ctx, sessionID); m != nil {
		return m, nil
	}
	m, err := s.repo.Get(ctx, sessionID)
	if err != nil || m == nil {
		return m, err
	}
	s.cache.Set(ctx, m)
	return m, nil
}

func (s *Store) GetBatch(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*SessionMetadata, error) {
	return s.repo.GetBatch(ctx, sessionIDs)
}

func (s *Store) LatestForUser(ctx context.Context, userID uuid.UUID) (*SessionMetadata, error) {
	return s.repo.LatestForUser(ctx, userID)
}

func (s *Store) Upsert(ctx context.Context, m *SessionMetadata) error {
	err := s.repo.Upsert(ctx, m)
	if err == nil {
		s.cache.Invalidate(ctx, m.SessionID)
	}
	return err
}

func (s *Store) RecordRequest(ctx context.Context, sessionID uuid.UUID, lastPage string, pageView bool) (bool, error) {
	existed, err := s.repo.RecordRequest(ctx, sessionID, lastPage, pageView)
	if err == nil && existed {
		s.cache.Invalidate(ctx, sessionID)
	}
	return existed, err
}

func (s *Store) ApplyTrustSignals(ctx context.Context, sessionID uuid.UUID, update TrustSignalUpdate) error {
	err := s.repo.ApplyTrustSignals(ctx, sessionID, update)
	if err == nil {
		s.cache.Invalidate(ctx, sessionID)
	}
	return err
}
