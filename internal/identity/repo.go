package identity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SessionRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// ListByUser returns all sessions for the user, most recently updated first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// TouchRequestInfo refreshes the session's last-known IP and user agent.
	TouchRequestInfo(ctx context.Context, id uuid.UUID, ip, userAgent string) error
}

const (
	getSessionByIDQuery = `
						SELECT id, user_id, token_hash, ip_address, user_agent,
						active_organization_id, impersonated_by, created_at, updated_at, expires_at
						FROM sessions WHERE id = $1
						`
	getSessionByTokenHashQuery = `
						SELECT id, user_id, token_hash, ip_address, user_agent,
						active_organization_id, impersonated_by, created_at, updated_at, expires_at
						FROM sessions WHERE token_hash = $1
						`
	listSessionsByUserQuery = `
						SELECT id, user_id, token_hash, ip_address, user_agent,
						active_organization_id, impersonated_by, created_at, updated_at, expires_at
						FROM sessions WHERE user_id = $1
						ORDER BY updated_at DESC
						`
	deleteSessionQuery = `
						DELETE FROM sessions WHERE id = $1
						`
	touchSessionQuery = `
						UPDATE sessions
						SET ip_address = $2, user_agent = $3, updated_at = now()
						WHERE id = $1
						`
)

type sessionRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSessionRepo(db *sql.DB, logger *zap.Logger) SessionRepo {
	return &sessionRepo{db: db, logger: logger}
}

func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, getSessionByIDQuery, id))
}

func (r *sessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, getSessionByTokenHashQuery, tokenHash))
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, listSessionsByUserQuery, userID)
	if err != nil {
		r.logger.Error("failed to list sessions", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := scanSession(rows, &s); err != nil {
			r.logger.Error("failed to scan session row", zap.Error(err))
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *sessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, deleteSessionQuery, id)
	if err != nil {
		r.logger.Error("failed to delete session", zap.String("id", id.String()), zap.Error(err))
	}
	return err
}

func (r *sessionRepo) TouchRequestInfo(ctx context.Context, id uuid.UUID, ip, userAgent string) error {
	_, err := r.db.ExecContext(ctx, touchSessionQuery, id, ip, userAgent)
	if err != nil {
		r.logger.Error("failed to touch session", zap.String("id", id.String()), zap.Error(err))
	}
	return err
}

func (r *sessionRepo) scanOne(row *sql.Row) (*Session, error) {
	var s Session
	if err := scanSession(row, &s); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("failed to scan session", zap.Error(err))
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner, s *Session) error {
	var ip, ua sql.NullString
	var org, impersonator uuid.NullUUID
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&ip,
		&ua,
		&org,
		&impersonator,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.ExpiresAt,
	)
	if err != nil {
		return err
	}
	s.IPAddress = ip.String
	s.UserAgent = ua.String
	if org.Valid {
		s.ActiveOrganizationID = &org.UUID
	}
	if impersonator.Valid {
		s.ImpersonatedBy = &impersonator.UUID
	}
	return nil
}
