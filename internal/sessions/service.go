package sessions

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekinok/sessiond/internal/activitylog"
	"github.com/ekinok/sessiond/internal/httpx"
	"github.com/ekinok/sessiond/internal/identity"
	"github.com/ekinok/sessiond/internal/metadata"
	"github.com/ekinok/sessiond/internal/trusteddevice"
)

// Service joins the four stores into the composed session view, owns the
// scoring policy, and fronts the identity provider's invalidation primitive.
type Service struct {
	sessions identity.SessionRepo
	provider identity.Provider
	meta     *metadata.Store
	devices  trusteddevice.Registry
	activity activitylog.Log
	logger   *zap.Logger
}

func NewService(
	sessions identity.SessionRepo,
	provider identity.Provider,
	meta *metadata.Store,
	devices trusteddevice.Registry,
	activity activitylog.Log,
	logger *zap.Logger,
) *Service {
	return &Service{
		sessions: sessions,
		provider: provider,
		meta:     meta,
		devices:  devices,
		activity: activity,
		logger:   logger,
	}
}

// ListSessionsForUser assembles every session of the user with its metadata,
// trusted-device match, and a short activity slice. Four queries total,
// regardless of session count; the joins happen in memory. Sessions missing
// metadata are still listed.
func (s *Service) ListSessionsForUser(ctx context.Context, userID, currentSessionID uuid.UUID) ([]SessionWithDetails, error) {
	userSessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(userSessions) == 0 {
		return []SessionWithDetails{}, nil
	}

	ids := make([]uuid.UUID, len(userSessions))
	for i, sess := range userSessions {
		ids[i] = sess.ID
	}

	metaBySession, err := s.meta.GetBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	devices, err := s.devices.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	// fingerprint join is a loose association, not a foreign key: metadata
	// may reference a fingerprint with no device row and vice versa
	deviceByFingerprint := make(map[string]*trusteddevice.TrustedDevice, len(devices))
	for i := range devices {
		deviceByFingerprint[devices[i].DeviceFingerprint] = &devices[i]
	}

	recent, err := s.activity.RecentForUser(ctx, userID, activitylog.MaxLimit)
	if err != nil {
		return nil, err
	}
	activityBySession := make(map[uuid.UUID][]activitylog.Entry)
	for _, entry := range recent {
		slice := activityBySession[entry.SessionID]
		if len(slice) >= perSessionActivityCap {
			continue
		}
		activityBySession[entry.SessionID] = append(slice, entry)
	}

	out := make([]SessionWithDetails, 0, len(userSessions))
	for _, sess := range userSessions {
		detail := SessionWithDetails{
			Session:          sess,
			Metadata:         metaBySession[sess.ID],
			RecentActivity:   activityBySession[sess.ID],
			IsCurrentSession: sess.ID == currentSessionID,
		}
		if detail.Metadata != nil {
			detail.TrustedDevice = deviceByFingerprint[detail.Metadata.DeviceFingerprint]
		}
		out = append(out, detail)
	}
	return out, nil
}

// GetSessionActivity returns one page of a session's audit trail. Ownership
// is checked first and failures are uniform: a foreign session id behaves
// exactly like a missing one.
func (s *Service) GetSessionActivity(ctx context.Context, userID, sessionID uuid.UUID, limit int) (*ActivityPage, error) {
	if err := s.authorizeOwner(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	limit = activitylog.ClampLimit(limit)
	entries, err := s.activity.Recent(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	return &ActivityPage{
		SessionID:  sessionID,
		Activities: entries,
		Total:      len(entries),
		HasMore:    len(entries) == limit,
	}, nil
}

// RevokeSession invalidates the session through the identity provider.
// Metadata cascades with the session row; the activity ledger deliberately
// survives for audit.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	if err := s.authorizeOwner(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.provider.Invalidate(ctx, sessionID)
}

func (s *Service) ListTrustedDevices(ctx context.Context, userID uuid.UUID) ([]trusteddevice.TrustedDevice, error) {
	return s.devices.ListActive(ctx, userID)
}

func (s *Service) TrustDevice(ctx context.Context, params trusteddevice.TrustParams) (*trusteddevice.TrustedDevice, error) {
	return s.devices.Trust(ctx, params)
}

func (s *Service) RevokeTrustedDevice(ctx context.Context, deviceID, userID uuid.UUID) error {
	return s.devices.Revoke(ctx, deviceID, userID)
}

// TrackRequest is the telemetry write path: refresh the session's request
// info, upsert or update its metadata, refresh the trust signals, append an
// audit entry. It runs detached from the request it annotates; every failure
// is logged and swallowed here or in the stores.
func (s *Service) TrackRequest(ctx context.Context, session identity.Session, meta httpx.RequestMeta) {
	if err := s.sessions.TouchRequestInfo(ctx, session.ID, meta.IP, meta.UserAgent); err != nil {
		s.logger.Debug("session touch failed", zap.String("session_id", session.ID.String()), zap.Error(err))
	}

	device, err := s.devices.FindByFingerprint(ctx, session.UserID, meta.Fingerprint)
	if err != nil {
		device = nil
	}
	trusted := device != nil
	if trusted {
		_ = s.devices.MarkSeen(ctx, device.ID)
	}

	sig := s.buildSignal(meta)

	current, err := s.meta.Get(ctx, session.ID)
	if err != nil {
		return
	}

	if current == nil {
		// first tracked request of this session: score against the user's
		// most recent activity elsewhere
		prev, err := s.meta.LatestForUser(ctx, session.UserID)
		if err != nil {
			return
		}
		score := ComputeScore(prev, sig, trusted)
		record := s.meta.Build(session.ID, meta, score, trusted)
		if err := s.meta.Upsert(ctx, record); err != nil {
			if errors.Is(err, metadata.ErrSessionGone) {
				s.logger.Debug("dropping telemetry for revoked session",
					zap.String("session_id", session.ID.String()))
			}
			return
		}
	} else if changed := signalChanged(current, sig); changed.any() || trusted != current.IsTrustedDevice {
		score := ComputeScore(current, sig, trusted)
		update := metadata.TrustSignalUpdate{
			SecurityScore:     score,
			IsTrustedDevice:   trusted,
			BumpSuspicious:    (changed.fingerprint || changed.country) && !trusted,
			DeviceFingerprint: sig.Fingerprint,
			IPAddress:         sig.IP,
		}
		if info, ok := s.meta.Locate(sig.IP); ok {
			update.Geo = info
		}
		if err := s.meta.ApplyTrustSignals(ctx, session.ID, update); err != nil {
			return
		}
	}

	if _, err := s.meta.RecordRequest(ctx, session.ID, meta.Path, isPageView(meta)); err != nil {
		return
	}

	entry := &activitylog.Entry{
		SessionID:      session.ID,
		UserID:         session.UserID,
		ActivityType:   "request",
		IPAddress:      meta.IP,
		UserAgent:      meta.UserAgent,
		RequestPath:    meta.Path,
		RequestMethod:  meta.Method,
		ResponseStatus: meta.Status,
		ResponseTimeMS: meta.DurationMS,
		Details: map[string]any{
			"ip_source":   string(meta.IPSource),
			"fingerprint": meta.Fingerprint,
		},
	}
	_ = s.activity.Append(ctx, entry)
}

func (s *Service) authorizeOwner(ctx context.Context, userID, sessionID uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrNotSessionOwner
		}
		return err
	}
	if session.UserID != userID {
		return ErrNotSessionOwner
	}
	return nil
}

func (s *Service) buildSignal(meta httpx.RequestMeta) Signal {
	parsed := metadata.ParseUserAgent(meta.UserAgent)
	sig := Signal{
		Fingerprint: meta.Fingerprint,
		IP:          meta.IP,
		BrowserName: parsed.BrowserName,
		OSName:      parsed.OSName,
		At:          meta.At,
	}
	if info, ok := s.meta.Locate(meta.IP); ok {
		sig.Country = info.Country
	}
	return sig
}

type signalDelta struct {
	ip          bool
	fingerprint bool
	country     bool
}

func (d signalDelta) any() bool {
	return d.ip || d.fingerprint || d.country
}

func signalChanged(current *metadata.SessionMetadata, sig Signal) signalDelta {
	return signalDelta{
		ip:          sig.IP != "" && current.IPAddress != "" && sig.IP != current.IPAddress,
		fingerprint: sig.Fingerprint != "" && current.DeviceFingerprint != "" && sig.Fingerprint != current.DeviceFingerprint,
		country:     sig.Country != "" && current.Country != "" && sig.Country != current.Country,
	}
}

func isPageView(meta httpx.RequestMeta) bool {
	return meta.Method == http.MethodGet && meta.Status < 400
}
