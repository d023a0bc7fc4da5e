package trusteddevice

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Registry interface {
	// ListActive returns the user's active trusted devices, most recently
	// seen first.
	ListActive(ctx context.Context, userID uuid.UUID) ([]TrustedDevice, error)
	// FindByFingerprint returns (nil, nil) when the user has no active,
	// unexpired trust record for the fingerprint.
	FindByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*TrustedDevice, error)
	// Trust creates or updates the single active record for
	// (user, fingerprint). Calling it twice with the same pair is idempotent.
	Trust(ctx context.Context, params TrustParams) (*TrustedDevice, error)
	// Revoke deactivates the device. Revoking an already-inactive device is
	// a no-op success; revoking a device that is missing or not the user's
	// fails with ErrNotFound.
	Revoke(ctx context.Context, deviceID, userID uuid.UUID) error
	// MarkSeen refreshes last_seen_at when a trusted device shows up again.
	MarkSeen(ctx context.Context, deviceID uuid.UUID) error
}

const (
	listActiveDevicesQuery = `
						SELECT id, user_id, device_fingerprint, device_name, device_type, trust_level,
						active, first_seen_at, last_seen_at, trusted_at, expires_at
						FROM trusted_devices
						WHERE user_id = $1 AND active
						ORDER BY last_seen_at DESC
						`
	findDeviceByFingerprintQuery = `
						SELECT id, user_id, device_fingerprint, device_name, device_type, trust_level,
						active, first_seen_at, last_seen_at, trusted_at, expires_at
						FROM trusted_devices
						WHERE user_id = $1 AND device_fingerprint = $2 AND active
						  AND (expires_at IS NULL OR expires_at > now())
						`
	trustDeviceQuery = `
						INSERT INTO trusted_devices (
						user_id, device_fingerprint, device_name, device_type, trust_level, expires_at
						) VALUES ($1, $2, $3, $4, $5, $6)
						ON CONFLICT (user_id, device_fingerprint) WHERE active DO UPDATE SET
						device_name = EXCLUDED.device_name,
						device_type = EXCLUDED.device_type,
						trust_level = EXCLUDED.trust_level,
						expires_at = EXCLUDED.expires_at,
						trusted_at = now(),
						last_seen_at = now()
						RETURNING id, user_id, device_fingerprint, device_name, device_type, trust_level,
						active, first_seen_at, last_seen_at, trusted_at, expires_at
						`
	revokeDeviceQuery = `
						UPDATE trusted_devices
						SET active = false
						WHERE id = $1 AND user_id = $2 AND active
						`
	deviceExistsQuery = `
						SELECT EXISTS (SELECT 1 FROM trusted_devices WHERE id = $1 AND user_id = $2)
						`
	markDeviceSeenQuery = `
						UPDATE trusted_devices SET last_seen_at = now() WHERE id = $1
						`
)

type registry struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRegistry(db *sql.DB, logger *zap.Logger) Registry {
	return &registry{db: db, logger: logger}
}

func (r *registry) ListActive(ctx context.Context, userID uuid.UUID) ([]TrustedDevice, error) {
	rows, err := r.db.QueryContext(ctx, listActiveDevicesQuery, userID)
	if err != nil {
		r.logger.Error("failed to list trusted devices", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var devices []TrustedDevice
	for rows.Next() {
		var d TrustedDevice
		if err := scanDevice(rows, &d); err != nil {
			r.logger.Error("failed to scan trusted device row", zap.Error(err))
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (r *registry) FindByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*TrustedDevice, error) {
	var d TrustedDevice
	err := scanDevice(r.db.QueryRowContext(ctx, findDeviceByFingerprintQuery, userID, fingerprint), &d)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to find trusted device by fingerprint", zap.Error(err))
		return nil, err
	}
	return &d, nil
}

func (r *registry) Trust(ctx context.Context, params TrustParams) (*TrustedDevice, error) {
	if !params.TrustLevel.Valid() {
		return nil, ErrInvalidTrustLevel
	}

	var d TrustedDevice
	err := scanDevice(r.db.QueryRowContext(ctx, trustDeviceQuery,
		params.UserID,
		params.Fingerprint,
		params.DeviceName,
		params.DeviceType,
		string(params.TrustLevel),
		params.ExpiresAt,
	), &d)
	if err != nil {
		r.logger.Error("failed to trust device",
			zap.String("user_id", params.UserID.String()), zap.Error(err))
		return nil, err
	}
	return &d, nil
}

func (r *registry) Revoke(ctx context.Context, deviceID, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, revokeDeviceQuery, deviceID, userID)
	if err != nil {
		r.logger.Error("failed to revoke trusted device", zap.String("id", deviceID.String()), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// nothing updated: either already inactive (idempotent success) or not
	// the caller's device
	var exists bool
	if err := r.db.QueryRowContext(ctx, deviceExistsQuery, deviceID, userID).Scan(&exists); err != nil {
		r.logger.Error("failed to check trusted device ownership", zap.Error(err))
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (r *registry) MarkSeen(ctx context.Context, deviceID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, markDeviceSeenQuery, deviceID)
	if err != nil {
		r.logger.Error("failed to mark trusted device seen", zap.String("id", deviceID.String()), zap.Error(err))
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner, d *TrustedDevice) error {
	var trustLevel string
	var expiresAt sql.NullTime
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.DeviceFingerprint,
		&d.DeviceName,
		&d.DeviceType,
		&trustLevel,
		&d.Active,
		&d.FirstSeenAt,
		&d.LastSeenAt,
		&d.TrustedAt,
		&expiresAt,
	)
	if err != nil {
		return err
	}
	d.TrustLevel = TrustLevel(trustLevel)
	if expiresAt.Valid {
		t := expiresAt.Time
		d.ExpiresAt = &t
	}
	return nil
}
