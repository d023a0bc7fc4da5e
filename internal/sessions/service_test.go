package sessions

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekinok/sessiond/internal/activitylog"
	"github.com/ekinok/sessiond/internal/httpx"
	"github.com/ekinok/sessiond/internal/identity"
	"github.com/ekinok/sessiond/internal/metadata"
	"github.com/ekinok/sessiond/internal/trusteddevice"
	"github.com/ekinok/sessiond/pkg/clientip"
)

const testUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

type fakeSessionRepo struct {
	sessions map[uuid.UUID]identity.Session
	touched  []uuid.UUID
}

func newFakeSessionRepo(sessions ...identity.Session) *fakeSessionRepo {
	r := &fakeSessionRepo{sessions: make(map[uuid.UUID]identity.Session)}
	for _, s := range sessions {
		r.sessions[s.ID] = s
	}
	return r
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &s, nil
}

func (r *fakeSessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*identity.Session, error) {
	for _, s := range r.sessions {
		if s.TokenHash == tokenHash {
			return &s, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (r *fakeSessionRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]identity.Session, error) {
	var out []identity.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.sessions, id)
	return nil
}

func (r *fakeSessionRepo) TouchRequestInfo(_ context.Context, id uuid.UUID, ip, userAgent string) error {
	s, ok := r.sessions[id]
	if !ok {
		return identity.ErrNotFound
	}
	s.IPAddress = ip
	s.UserAgent = userAgent
	r.sessions[id] = s
	r.touched = append(r.touched, id)
	return nil
}

type fakeProvider struct {
	invalidated []uuid.UUID
}

func (p *fakeProvider) SessionFromRequest(context.Context, *http.Request) (*identity.Session, error) {
	return nil, identity.ErrUnauthorized
}

func (p *fakeProvider) Invalidate(_ context.Context, sessionID uuid.UUID) error {
	p.invalidated = append(p.invalidated, sessionID)
	return nil
}

type fakeRegistry struct {
	devices []trusteddevice.TrustedDevice
	seen    []uuid.UUID
}

func (r *fakeRegistry) ListActive(_ context.Context, userID uuid.UUID) ([]trusteddevice.TrustedDevice, error) {
	var out []trusteddevice.TrustedDevice
	for _, d := range r.devices {
		if d.UserID == userID && d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeRegistry) FindByFingerprint(_ context.Context, userID uuid.UUID, fingerprint string) (*trusteddevice.TrustedDevice, error) {
	for i, d := range r.devices {
		if d.UserID == userID && d.DeviceFingerprint == fingerprint && d.Active && !d.IsExpired() {
			return &r.devices[i], nil
		}
	}
	return nil, nil
}

func (r *fakeRegistry) Trust(_ context.Context, params trusteddevice.TrustParams) (*trusteddevice.TrustedDevice, error) {
	d := trusteddevice.TrustedDevice{
		ID:                uuid.New(),
		UserID:            params.UserID,
		DeviceFingerprint: params.Fingerprint,
		DeviceName:        params.DeviceName,
		DeviceType:        params.DeviceType,
		TrustLevel:        params.TrustLevel,
		Active:            true,
		ExpiresAt:         params.ExpiresAt,
	}
	r.devices = append(r.devices, d)
	return &d, nil
}

func (r *fakeRegistry) Revoke(_ context.Context, deviceID, userID uuid.UUID) error {
	for i, d := range r.devices {
		if d.ID == deviceID && d.UserID == userID {
			r.devices[i].Active = false
			return nil
		}
	}
	return trusteddevice.ErrNotFound
}

func (r *fakeRegistry) MarkSeen(_ context.Context, deviceID uuid.UUID) error {
	r.seen = append(r.seen, deviceID)
	return nil
}

type fakeLog struct {
	entries   []activitylog.Entry
	lastLimit int
}

func (l *fakeLog) Append(_ context.Context, entry *activitylog.Entry) error {
	entry.ID = int64(len(l.entries) + 1)
	entry.CreatedAt = time.Now()
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *fakeLog) Recent(_ context.Context, sessionID uuid.UUID, limit int) ([]activitylog.Entry, error) {
	l.lastLimit = limit
	var out []activitylog.Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if l.entries[i].SessionID == sessionID {
			out = append(out, l.entries[i])
		}
	}
	return out, nil
}

func (l *fakeLog) RecentForUser(_ context.Context, userID uuid.UUID, limit int) ([]activitylog.Entry, error) {
	var out []activitylog.Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if l.entries[i].UserID == userID {
			out = append(out, l.entries[i])
		}
	}
	return out, nil
}

type fakeMetaRepo struct {
	records map[uuid.UUID]*metadata.SessionMetadata
	// owners maps session to user for LatestForUser, which joins through
	// sessions in the real implementation
	owners      map[uuid.UUID]uuid.UUID
	gone        bool
	lastUpdate  *metadata.TrustSignalUpdate
	upsertCount int
}

func newFakeMetaRepo() *fakeMetaRepo {
	return &fakeMetaRepo{
		records: make(map[uuid.UUID]*metadata.SessionMetadata),
		owners:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *fakeMetaRepo) Upsert(_ context.Context, m *metadata.SessionMetadata) error {
	if r.gone {
		return metadata.ErrSessionGone
	}
	r.upsertCount++
	cp := *m
	cp.LastActivityAt = time.Now()
	r.records[m.SessionID] = &cp
	return nil
}

func (r *fakeMetaRepo) Get(_ context.Context, sessionID uuid.UUID) (*metadata.SessionMetadata, error) {
	return r.records[sessionID], nil
}

func (r *fakeMetaRepo) GetBatch(_ context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*metadata.SessionMetadata, error) {
	out := make(map[uuid.UUID]*metadata.SessionMetadata)
	for _, id := range sessionIDs {
		if m, ok := r.records[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (r *fakeMetaRepo) LatestForUser(_ context.Context, userID uuid.UUID) (*metadata.SessionMetadata, error) {
	var latest *metadata.SessionMetadata
	for sid, m := range r.records {
		if r.owners[sid] != userID {
			continue
		}
		if latest == nil || m.LastActivityAt.After(latest.LastActivityAt) {
			latest = m
		}
	}
	return latest, nil
}

func (r *fakeMetaRepo) RecordRequest(_ context.Context, sessionID uuid.UUID, lastPage string, pageView bool) (bool, error) {
	m, ok := r.records[sessionID]
	if !ok {
		return false, nil
	}
	m.RequestCount++
	if pageView {
		m.PageViews++
	}
	m.LastPage = lastPage
	m.LastActivityAt = time.Now()
	return true, nil
}

func (r *fakeMetaRepo) ApplyTrustSignals(_ context.Context, sessionID uuid.UUID, update metadata.TrustSignalUpdate) error {
	r.lastUpdate = &update
	m, ok := r.records[sessionID]
	if !ok {
		return nil
	}
	m.SecurityScore = update.SecurityScore
	m.IsTrustedDevice = update.IsTrustedDevice
	if update.BumpSuspicious {
		m.SuspiciousActivityCount++
	}
	if update.DeviceFingerprint != "" {
		m.DeviceFingerprint = update.DeviceFingerprint
	}
	if update.IPAddress != "" {
		m.IPAddress = update.IPAddress
	}
	return nil
}

type serviceFixture struct {
	service  *Service
	sessions *fakeSessionRepo
	provider *fakeProvider
	devices  *fakeRegistry
	activity *fakeLog
	meta     *fakeMetaRepo
}

func newFixture(sessions ...identity.Session) *serviceFixture {
	f := &serviceFixture{
		sessions: newFakeSessionRepo(sessions...),
		provider: &fakeProvider{},
		devices:  &fakeRegistry{},
		activity: &fakeLog{},
		meta:     newFakeMetaRepo(),
	}
	store := metadata.NewStore(f.meta, nil, nil)
	f.service = NewService(f.sessions, f.provider, store, f.devices, f.activity, zap.NewNop())
	return f
}

func testSession(userID uuid.UUID) identity.Session {
	now := time.Now()
	return identity.Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: identity.HashToken(uuid.NewString()),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestListSessionsForUser(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	laptop := testSession(userID)
	phone := testSession(userID)
	other := testSession(uuid.New())

	f := newFixture(laptop, phone, other)

	f.meta.records[laptop.ID] = &metadata.SessionMetadata{
		SessionID:         laptop.ID,
		DeviceFingerprint: "v1:laptop",
		SecurityScore:     85,
	}
	f.devices.devices = append(f.devices.devices, trusteddevice.TrustedDevice{
		ID:                uuid.New(),
		UserID:            userID,
		DeviceFingerprint: "v1:laptop",
		TrustLevel:        trusteddevice.TrustHigh,
		Active:            true,
	})
	for i := 0; i < 15; i++ {
		require.NoError(t, f.activity.Append(context.Background(), &activitylog.Entry{
			SessionID:    laptop.ID,
			UserID:       userID,
			ActivityType: "request",
			RequestPath:  fmt.Sprintf("/page/%d", i),
		}))
	}

	out, err := f.service.ListSessionsForUser(context.Background(), userID, phone.ID)
	require.NoError(t, err)
	require.Len(t, out, 2)

	byID := make(map[uuid.UUID]SessionWithDetails)
	for _, d := range out {
		byID[d.Session.ID] = d
	}

	got, ok := byID[laptop.ID]
	require.True(t, ok)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, 85, got.Metadata.SecurityScore)
	require.NotNil(t, got.TrustedDevice)
	assert.Equal(t, trusteddevice.TrustHigh, got.TrustedDevice.TrustLevel)
	assert.Len(t, got.RecentActivity, perSessionActivityCap)
	assert.False(t, got.IsCurrentSession)

	got, ok = byID[phone.ID]
	require.True(t, ok)
	// a session without metadata still lists, as an unknown device
	assert.Nil(t, got.Metadata)
	assert.Nil(t, got.TrustedDevice)
	assert.True(t, got.IsCurrentSession)

	// the other user's session never leaks in
	_, ok = byID[other.ID]
	assert.False(t, ok)
}

func TestListSessionsForUserEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture()
	out, err := f.service.ListSessionsForUser(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGetSessionActivity(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.activity.Append(context.Background(), &activitylog.Entry{
			SessionID:    sess.ID,
			UserID:       userID,
			ActivityType: "request",
		}))
	}

	page, err := f.service.GetSessionActivity(context.Background(), userID, sess.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, page.SessionID)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Activities, 5)
	assert.False(t, page.HasMore)

	// a page that comes back exactly full reports more, even at the end
	page, err = f.service.GetSessionActivity(context.Background(), userID, sess.ID, 5)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
}

func TestGetSessionActivityLargeLog(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)

	for i := 0; i < 150; i++ {
		require.NoError(t, f.activity.Append(context.Background(), &activitylog.Entry{
			SessionID:    sess.ID,
			UserID:       userID,
			ActivityType: "request",
		}))
	}

	// an oversized limit clamps to the cap and reports more entries behind it
	page, err := f.service.GetSessionActivity(context.Background(), userID, sess.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, activitylog.MaxLimit, page.Total)
	assert.True(t, page.HasMore)
}

func TestGetSessionActivityClampsLimit(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)

	_, err := f.service.GetSessionActivity(context.Background(), userID, sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, activitylog.DefaultLimit, f.activity.lastLimit)

	_, err = f.service.GetSessionActivity(context.Background(), userID, sess.ID, 5000)
	require.NoError(t, err)
	assert.Equal(t, activitylog.MaxLimit, f.activity.lastLimit)
}

func TestGetSessionActivityOwnership(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	stranger := uuid.New()
	sess := testSession(owner)
	f := newFixture(sess)

	// foreign session and missing session fail identically
	_, err := f.service.GetSessionActivity(context.Background(), stranger, sess.ID, 10)
	require.ErrorIs(t, err, ErrNotSessionOwner)

	_, missingErr := f.service.GetSessionActivity(context.Background(), owner, uuid.New(), 10)
	require.ErrorIs(t, missingErr, ErrNotSessionOwner)
	assert.Equal(t, err.Error(), missingErr.Error())
}

func TestRevokeSession(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)

	require.NoError(t, f.service.RevokeSession(context.Background(), userID, sess.ID))
	require.Len(t, f.provider.invalidated, 1)
	assert.Equal(t, sess.ID, f.provider.invalidated[0])
}

func TestRevokeSessionDeniedForStranger(t *testing.T) {
	t.Parallel()

	sess := testSession(uuid.New())
	f := newFixture(sess)

	err := f.service.RevokeSession(context.Background(), uuid.New(), sess.ID)
	require.ErrorIs(t, err, ErrNotSessionOwner)
	assert.Empty(t, f.provider.invalidated)
}

func trackedMeta() httpx.RequestMeta {
	return httpx.RequestMeta{
		IP:          "203.0.113.7",
		IPSource:    clientip.SourceCloudflare,
		UserAgent:   testUA,
		Fingerprint: "v1:laptop",
		Path:        "/dashboard",
		Method:      http.MethodGet,
		Status:      http.StatusOK,
		DurationMS:  12,
		At:          time.Now(),
	}
}

func TestTrackRequestFirstRequest(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)

	f.service.TrackRequest(context.Background(), sess, trackedMeta())

	// session request info refreshed
	require.Contains(t, f.sessions.touched, sess.ID)
	assert.Equal(t, "203.0.113.7", f.sessions.sessions[sess.ID].IPAddress)

	// metadata created with the cold-start score
	m := f.meta.records[sess.ID]
	require.NotNil(t, m)
	assert.Equal(t, "v1:laptop", m.DeviceFingerprint)
	assert.Equal(t, "Chrome", m.BrowserName)
	assert.Equal(t, metadata.DeviceDesktop, m.DeviceType)
	assert.Equal(t, 35, m.SecurityScore)
	assert.False(t, m.IsTrustedDevice)
	assert.Equal(t, int64(1), m.RequestCount)
	assert.Equal(t, int64(1), m.PageViews)
	assert.Equal(t, "/dashboard", m.LastPage)

	// audit entry appended with the resolution source
	require.Len(t, f.activity.entries, 1)
	entry := f.activity.entries[0]
	assert.Equal(t, sess.ID, entry.SessionID)
	assert.Equal(t, "request", entry.ActivityType)
	assert.Equal(t, string(clientip.SourceCloudflare), entry.Details["ip_source"])
	assert.Equal(t, "v1:laptop", entry.Details["fingerprint"])
}

func TestTrackRequestTrustedDevice(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)

	deviceID := uuid.New()
	f.devices.devices = append(f.devices.devices, trusteddevice.TrustedDevice{
		ID:                deviceID,
		UserID:            userID,
		DeviceFingerprint: "v1:laptop",
		Active:            true,
	})

	f.service.TrackRequest(context.Background(), sess, trackedMeta())

	m := f.meta.records[sess.ID]
	require.NotNil(t, m)
	assert.True(t, m.IsTrustedDevice)
	assert.Equal(t, 75, m.SecurityScore)
	assert.Contains(t, f.devices.seen, deviceID)
}

func TestTrackRequestRevokedSession(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)
	f.meta.gone = true

	f.service.TrackRequest(context.Background(), sess, trackedMeta())

	// telemetry for a revoked session is dropped, not resurrected
	assert.Empty(t, f.meta.records)
	assert.Empty(t, f.activity.entries)
}

func TestTrackRequestFingerprintChange(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)

	f.meta.records[sess.ID] = &metadata.SessionMetadata{
		SessionID:         sess.ID,
		DeviceFingerprint: "v1:original",
		BrowserName:       "Chrome",
		OSName:            "Windows",
		IPAddress:         "203.0.113.7",
		SecurityScore:     60,
		LastActivityAt:    time.Now().Add(-time.Minute),
	}
	f.meta.owners[sess.ID] = userID

	f.service.TrackRequest(context.Background(), sess, trackedMeta())

	require.NotNil(t, f.meta.lastUpdate)
	assert.True(t, f.meta.lastUpdate.BumpSuspicious)
	assert.Equal(t, "v1:laptop", f.meta.lastUpdate.DeviceFingerprint)

	m := f.meta.records[sess.ID]
	assert.Equal(t, 1, m.SuspiciousActivityCount)
	// rescored: browser history still matches but the fingerprint is new
	assert.Equal(t, 45, m.SecurityScore)
	assert.Equal(t, int64(1), m.RequestCount)
	require.Len(t, f.activity.entries, 1)
}

func TestTrackRequestStableSignalSkipsRescore(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sess := testSession(userID)
	f := newFixture(sess)

	f.meta.records[sess.ID] = &metadata.SessionMetadata{
		SessionID:         sess.ID,
		DeviceFingerprint: "v1:laptop",
		BrowserName:       "Chrome",
		OSName:            "Windows",
		IPAddress:         "203.0.113.7",
		SecurityScore:     60,
		LastActivityAt:    time.Now().Add(-time.Minute),
	}

	f.service.TrackRequest(context.Background(), sess, trackedMeta())

	assert.Nil(t, f.meta.lastUpdate)
	m := f.meta.records[sess.ID]
	assert.Equal(t, 60, m.SecurityScore)
	assert.Equal(t, int64(1), m.RequestCount)
}
