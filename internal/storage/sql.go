package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/assistant/internal/models"
	"go.uber.org/zap"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name       string
	numbered   bool // $1, $2 placeholders instead of ?
	encodeTime func(time.Time) any
}

// SQLStorage implements Storage on top of database/sql.
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

const sessionColumns = `id, user_id, title, status, metadata, last_message_at, created_at, updated_at`

const messageColumns = `id, session_id, content, role, status, metadata, created_at`

const upsertSessionSQL = `
	INSERT INTO chat_sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		user_id = excluded.user_id,
		title = excluded.title,
		status = excluded.status,
		metadata = excluded.metadata,
		last_message_at = excluded.last_message_at,
		updated_at = excluded.updated_at`

const upsertMessageSQL = `
	INSERT INTO messages (` + messageColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		content = excluded.content,
		role = excluded.role,
		status = excluded.status,
		metadata = excluded.metadata`

// rebind rewrites ? placeholders for dialects that number their parameters.
func (s *SQLStorage) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStorage) ListSessions(ctx context.Context, q SessionQuery) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE user_id = ?`
	args := []any{q.UserID}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY last_message_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

func (s *SQLStorage) UpsertSessions(ctx context.Context, sessions []*models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(upsertSessionSQL))
		if err != nil {
			return fmt.Errorf("error preparing session upsert: %w", err)
		}
		defer stmt.Close()

		for _, session := range sessions {
			_, err := stmt.ExecContext(ctx,
				session.ID,
				session.UserID,
				session.Title,
				string(session.Status),
				nonNil(session.Metadata),
				s.dialect.encodeTime(session.LastMessageAt),
				s.dialect.encodeTime(session.CreatedAt),
				s.dialect.encodeTime(session.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("error upserting session %s: %w", session.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLStorage) UpdateSessionStatus(ctx context.Context, u StatusUpdate) (*models.Session, error) {
	var updated *models.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE chat_sessions SET status = ?, updated_at = ?`
		args := []any{string(u.Status), s.dialect.encodeTime(u.UpdatedAt)}
		if u.Metadata != nil {
			query += `, metadata = ?`
			args = append(args, u.Metadata)
		}
		query += ` WHERE id = ?`
		args = append(args, u.SessionID)

		result, err := tx.ExecContext(ctx, s.rebind(query), args...)
		if err != nil {
			return fmt.Errorf("error updating session status: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("error getting rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}

		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`), u.SessionID)
		updated, err = scanSession(row)
		if err != nil {
			return fmt.Errorf("error reading updated session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLStorage) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM chat_sessions WHERE id = ?`), sessionID)
	if err != nil {
		return false, fmt.Errorf("error deleting session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (s *SQLStorage) ListMessages(ctx context.Context, q MessageQuery) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ?`
	args := []any{q.SessionID}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if q.BeforeID != "" {
		query += ` AND id < ?`
		args = append(args, q.BeforeID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		var role, status string
		err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Content,
			&role,
			&status,
			&msg.Metadata,
			timestamp{&msg.CreatedAt},
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.Status = models.MessageStatus(status)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (s *SQLStorage) UpsertMessages(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(upsertMessageSQL))
		if err != nil {
			return fmt.Errorf("error preparing message upsert: %w", err)
		}
		defer stmt.Close()

		for _, msg := range messages {
			_, err := stmt.ExecContext(ctx,
				msg.ID,
				msg.SessionID,
				msg.Content,
				string(msg.Role),
				string(msg.Status),
				nonNil(msg.Metadata),
				s.dialect.encodeTime(msg.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("error upserting message %s: %w", msg.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLStorage) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE session_id = ?`), sessionID)
	if err != nil {
		return 0, fmt.Errorf("error deleting messages: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %w", err)
	}
	return rowsAffected, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to roll back transaction", zap.Error(rbErr), zap.String("driver", s.dialect.name))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var status string
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Title,
		&status,
		&session.Metadata,
		timestamp{&session.LastMessageAt},
		timestamp{&session.CreatedAt},
		timestamp{&session.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	return session, nil
}

func nonNil(m models.Metadata) models.Metadata {
	if m == nil {
		return models.Metadata{}
	}
	return m
}

// timestamp scans native time columns as well as unix-microsecond integers.
type timestamp struct {
	t *time.Time
}

func (ts timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*ts.t = v.UTC()
	case int64:
		*ts.t = time.UnixMicro(v).UTC()
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
	return nil
}

func (ts timestamp) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*ts.t = t.UTC()
	return nil
}
