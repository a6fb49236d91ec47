package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"orgcore.io/internal/rbac"
)

func (s *Store) CreateSession(ctx context.Context, sess rbac.Session) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, login_type, identifier, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.UserID, sess.LoginType, sess.Identifier, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (rbac.Session, error) {
	if s.db == nil {
		return rbac.Session{}, errors.New("database connection unavailable")
	}
	var sess rbac.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, login_type, identifier, expires_at, created_at
		from sessions
		where id = $1
	`, sessionID).Scan(&sess.ID, &sess.UserID, &sess.LoginType, &sess.Identifier, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Session{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Session{}, err
	}
	return sess, nil
}

// SessionExpiry is the cheap liveness probe used by the session cache.
func (s *Store) SessionExpiry(ctx context.Context, sessionID string) (time.Time, error) {
	if s.db == nil {
		return time.Time{}, errors.New("database connection unavailable")
	}
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `
		select expires_at from sessions where id = $1
	`, sessionID).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, rbac.ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from sessions where id = $1`, sessionID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// DeleteSessionsForUser removes every session row and returns the deleted
// session ids so callers can evict the matching cache entries.
func (s *Store) DeleteSessionsForUser(ctx context.Context, userID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		delete from sessions where user_id = $1 returning id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deleted, nil
}
