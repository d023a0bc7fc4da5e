package metadata

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekinok/sessiond/internal/geo"
)

// ErrSessionGone signals an upsert against a session row that no longer
// exists. A revoked session must not be resurrected by a late telemetry
// write, so callers drop the write on this error.
var ErrSessionGone = errors.New("session no longer exists")

// TrustSignalUpdate carries the trust-relevant fields recomputed when a
// request changes the session's signal (new IP, fingerprint mismatch, geo
// change).
type TrustSignalUpdate struct {
	SecurityScore     int
	IsTrustedDevice   bool
	BumpSuspicious    bool
	DeviceFingerprint string
	IPAddress         string
	Geo               geo.Info
}

type MetadataRepo interface {
	// Upsert is keyed by session id: insert on the session's first request,
	// update in place on every later one. Idempotent under racing tabs.
	Upsert(ctx context.Context, m *SessionMetadata) error
	// Get returns (nil, nil) when no metadata exists for the session.
	Get(ctx context.Context, sessionID uuid.UUID) (*SessionMetadata, error)
	GetBatch(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*SessionMetadata, error)
	// LatestForUser returns the most recently active metadata row across all
	// the user's sessions, or (nil, nil).
	LatestForUser(ctx context.Context, userID uuid.UUID) (*SessionMetadata, error)
	// RecordRequest bumps counters atomically in SQL. Returns false when no
	// metadata row exists yet for the session.
	RecordRequest(ctx context.Context, sessionID uuid.UUID, lastPage string, pageView bool) (bool, error)
	ApplyTrustSignals(ctx context.Context, sessionID uuid.UUID, update TrustSignalUpdate) error
}

const (
	metadataColumns = `session_id, device_fingerprint, device_type, browser_name, browser_version,
						os_name, os_version, country, region, city, timezone, isp_name, connection_type,
						security_score, is_trusted_device, suspicious_activity_count, last_activity_at,
						page_views, request_count, last_page, session_duration_seconds, ip_address,
						created_at, updated_at`

	upsertMetadataQuery = `
						INSERT INTO session_metadata (
						session_id, device_fingerprint, device_type, browser_name, browser_version,
						os_name, os_version, country, region, city, timezone, isp_name, connection_type,
						security_score, is_trusted_device, ip_address, last_page
						) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
						ON CONFLICT (session_id) DO UPDATE SET
						device_fingerprint = EXCLUDED.device_fingerprint,
						device_type = EXCLUDED.device_type,
						browser_name = EXCLUDED.browser_name,
						browser_version = EXCLUDED.browser_version,
						os_name = EXCLUDED.os_name,
						os_version = EXCLUDED.os_version,
						country = EXCLUDED.country,
						region = EXCLUDED.region,
						city = EXCLUDED.city,
						timezone = EXCLUDED.timezone,
						isp_name = EXCLUDED.isp_name,
						connection_type = EXCLUDED.connection_type,
						security_score = EXCLUDED.security_score,
						is_trusted_device = EXCLUDED.is_trusted_device,
						ip_address = EXCLUDED.ip_address,
						last_page = EXCLUDED.last_page,
						last_activity_at = now(),
						updated_at = now()
						`
	recordRequestQuery = `
						UPDATE session_metadata SET
						request_count = request_count + 1,
						page_views = page_views + $3,
						last_activity_at = now(),
						last_page = $2,
						session_duration_seconds = EXTRACT(EPOCH FROM (now() - created_at))::BIGINT,
						updated_at = now()
						WHERE session_id = $1
						`
	applyTrustSignalsQuery = `
						UPDATE session_metadata SET
						security_score = $2,
						is_trusted_device = $3,
						suspicious_activity_count = suspicious_activity_count + $4,
						device_fingerprint = $5,
						ip_address = COALESCE(NULLIF($6, ''), ip_address),
						country = COALESCE(NULLIF($7, ''), country),
						region = COALESCE(NULLIF($8, ''), region),
						city = COALESCE(NULLIF($9, ''), city),
						timezone = COALESCE(NULLIF($10, ''), timezone),
						isp_name = COALESCE(NULLIF($11, ''), isp_name),
						connection_type = COALESCE(NULLIF($12, ''), connection_type),
						updated_at = now()
						WHERE session_id = $1
						`
)

type metadataRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMetadataRepo(db *sql.DB, logger *zap.Logger) MetadataRepo {
	return &metadataRepo{db: db, logger: logger}
}

func (r *metadataRepo) Upsert(ctx context.Context, m *SessionMetadata) error {
	_, err := r.db.ExecContext(ctx, upsertMetadataQuery,
		m.SessionID,
		m.DeviceFingerprint,
		string(m.DeviceType),
		m.BrowserName,
		m.BrowserVersion,
		m.OSName,
		m.OSVersion,
		m.Country,
		m.Region,
		m.City,
		m.Timezone,
		m.ISPName,
		m.ConnectionType,
		m.SecurityScore,
		m.IsTrustedDevice,
		m.IPAddress,
		m.LastPage,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			// session was revoked between resolution and this write
			return ErrSessionGone
		}
		r.logger.Error("failed to upsert session metadata",
			zap.String("session_id", m.SessionID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *metadataRepo) Get(ctx context.Context, sessionID uuid.UUID) (*SessionMetadata, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+metadataColumns+` FROM session_metadata WHERE session_id = $1`, sessionID)
	m, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get session metadata",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, err
	}
	return m, nil
}

func (r *metadataRepo) GetBatch(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*SessionMetadata, error) {
	out := make(map[uuid.UUID]*SessionMetadata, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}

	ids := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		ids[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+metadataColumns+` FROM session_metadata WHERE session_id = ANY($1::uuid[])`, ids)
	if err != nil {
		r.logger.Error("failed to batch-get session metadata", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			r.logger.Error("failed to scan metadata row", zap.Error(err))
			return nil, err
		}
		out[m.SessionID] = m
	}
	return out, rows.Err()
}

func (r *metadataRepo) LatestForUser(ctx context.Context, userID uuid.UUID) (*SessionMetadata, error) {
	row := r.db.QueryRowContext(ctx, `
						SELECT `+metadataColumns+`
						FROM session_metadata
						WHERE session_id IN (SELECT id FROM sessions WHERE user_id = $1)
						ORDER BY last_activity_at DESC
						LIMIT 1
						`, userID)
	m, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get latest metadata for user",
			zap.String("user_id", userID.String()), zap.Error(err))
		return nil, err
	}
	return m, nil
}

func (r *metadataRepo) RecordRequest(ctx context.Context, sessionID uuid.UUID, lastPage string, pageView bool) (bool, error) {
	views := 0
	if pageView {
		views = 1
	}
	res, err := r.db.ExecContext(ctx, recordRequestQuery, sessionID, lastPage, views)
	if err != nil {
		r.logger.Error("failed to record request on metadata",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *metadataRepo) ApplyTrustSignals(ctx context.Context, sessionID uuid.UUID, update TrustSignalUpdate) error {
	bump := 0
	if update.BumpSuspicious {
		bump = 1
	}
	_, err := r.db.ExecContext(ctx, applyTrustSignalsQuery,
		sessionID,
		update.SecurityScore,
		update.IsTrustedDevice,
		bump,
		update.DeviceFingerprint,
		update.IPAddress,
		update.Geo.Country,
		update.Geo.Region,
		update.Geo.City,
		update.Geo.Timezone,
		update.Geo.ISP,
		update.Geo.ConnectionType,
	)
	if err != nil {
		r.logger.Error("failed to apply trust signals",
			zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*SessionMetadata, error) {
	var m SessionMetadata
	var deviceType string
	var browserName, browserVersion, osName, osVersion sql.NullString
	var country, region, city, timezone, isp, connType sql.NullString
	var lastPage, ip sql.NullString
	var duration sql.NullInt64

	err := row.Scan(
		&m.SessionID,
		&m.DeviceFingerprint,
		&deviceType,
		&browserName,
		&browserVersion,
		&osName,
		&osVersion,
		&country,
		&region,
		&city,
		&timezone,
		&isp,
		&connType,
		&m.SecurityScore,
		&m.IsTrustedDevice,
		&m.SuspiciousActivityCount,
		&m.LastActivityAt,
		&m.PageViews,
		&m.RequestCount,
		&lastPage,
		&duration,
		&ip,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.DeviceType = DeviceType(deviceType)
	m.BrowserName = browserName.String
	m.BrowserVersion = browserVersion.String
	m.OSName = osName.String
	m.OSVersion = osVersion.String
	m.Country = country.String
	m.Region = region.String
	m.City = city.String
	m.Timezone = timezone.String
	m.ISPName = isp.String
	m.ConnectionType = connType.String
	m.LastPage = lastPage.String
	m.SessionDurationSeconds = duration.Int64
	m.IPAddress = ip.String
	return &m, nil
}
