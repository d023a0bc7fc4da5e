package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekinok/sessiond/internal/config"
)

// Provider is the identity-side collaborator: it resolves the caller's
// session from request credentials and invalidates sessions on revoke. Token
// issuance lives outside this service entirely.
type Provider interface {
	SessionFromRequest(ctx context.Context, r *http.Request) (*Session, error)
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
}

type Claims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

type jwtProvider struct {
	repo     SessionRepo
	secret   []byte
	issuer   string
	audience string
	logger   *zap.Logger
}

func NewJWTProvider(repo SessionRepo, cfg *config.AuthConfig, logger *zap.Logger) Provider {
	return &jwtProvider{
		repo:     repo,
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		logger:   logger,
	}
}

// SessionFromRequest resolves a Bearer token to a live session row. The JWT
// signature proves issuance; the token-hash comparison against the sessions
// table proves the session was not revoked since.
func (p *jwtProvider) SessionFromRequest(ctx context.Context, r *http.Request) (*Session, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, ErrUnauthorized
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		p.logger.Debug("bearer token rejected", zap.Error(err))
		return nil, ErrUnauthorized
	}

	sid, err := uuid.Parse(claims.SID)
	if err != nil {
		p.logger.Debug("malformed sid claim", zap.String("sid", claims.SID))
		return nil, ErrUnauthorized
	}

	session, err := p.repo.GetByID(ctx, sid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if session.TokenHash != HashToken(raw) {
		p.logger.Warn("token hash mismatch for live session", zap.String("session_id", sid.String()))
		return nil, ErrUnauthorized
	}
	if session.IsExpired() {
		return nil, ErrExpired
	}
	return session, nil
}

func (p *jwtProvider) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	return p.repo.Delete(ctx, sessionID)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
