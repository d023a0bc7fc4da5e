package activitylog

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Log is the append-only per-session audit ledger. There are deliberately no
// update or delete operations.
type Log interface {
	Append(ctx context.Context, entry *Entry) error
	// Recent returns the session's newest entries, created_at descending,
	// limit clamped to [1, MaxLimit].
	Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]Entry, error)
	// RecentForUser spans all the user's sessions in one query so the
	// orchestrator can partition in memory instead of issuing N queries.
	RecentForUser(ctx context.Context, userID uuid.UUID, limit int) ([]Entry, error)
}

const (
	appendEntryQuery = `
						INSERT INTO session_activity_log (
						session_id, user_id, activity_type, details, ip_address, user_agent,
						request_path, request_method, response_status, response_time_ms
						) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
						RETURNING id, created_at
						`
	recentBySessionQuery = `
						SELECT id, session_id, user_id, activity_type, details, ip_address, user_agent,
						request_path, request_method, response_status, response_time_ms, created_at
						FROM session_activity_log
						WHERE session_id = $1
						ORDER BY created_at DESC, id DESC
						LIMIT $2
						`
	recentByUserQuery = `
						SELECT id, session_id, user_id, activity_type, details, ip_address, user_agent,
						request_path, request_method, response_status, response_time_ms, created_at
						FROM session_activity_log
						WHERE user_id = $1
						ORDER BY created_at DESC, id DESC
						LIMIT $2
						`
)

type log struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewLog(db *sql.DB, logger *zap.Logger) Log {
	return &log{db: db, logger: logger}
}

func (l *log) Append(ctx context.Context, entry *Entry) error {
	var details any
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			l.logger.Error("failed to marshal activity details", zap.Error(err))
			return err
		}
		details = raw
	}

	err := l.db.QueryRowContext(ctx, appendEntryQuery,
		entry.SessionID,
		entry.UserID,
		entry.ActivityType,
		details,
		nullable(entry.IPAddress),
		nullable(entry.UserAgent),
		nullable(entry.RequestPath),
		nullable(entry.RequestMethod),
		entry.ResponseStatus,
		entry.ResponseTimeMS,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		l.logger.Error("failed to append activity entry",
			zap.String("session_id", entry.SessionID.String()), zap.Error(err))
	}
	return err
}

func (l *log) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]Entry, error) {
	return l.query(ctx, recentBySessionQuery, sessionID, ClampLimit(limit))
}

func (l *log) RecentForUser(ctx context.Context, userID uuid.UUID, limit int) ([]Entry, error) {
	return l.query(ctx, recentByUserQuery, userID, ClampLimit(limit))
}

func (l *log) query(ctx context.Context, q string, id uuid.UUID, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, q, id, limit)
	if err != nil {
		l.logger.Error("failed to query activity entries", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		var ip, userAgent, path, method sql.NullString
		err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&e.UserID,
			&e.ActivityType,
			&details,
			&ip,
			&userAgent,
			&path,
			&method,
			&e.ResponseStatus,
			&e.ResponseTimeMS,
			&e.CreatedAt,
		)
		if err != nil {
			l.logger.Error("failed to scan activity entry", zap.Error(err))
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				l.logger.Warn("corrupt activity details payload", zap.Int64("id", e.ID), zap.Error(err))
			}
		}
		e.IPAddress = ip.String
		e.UserAgent = userAgent.String
		e.RequestPath = path.String
		e.RequestMethod = method.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
