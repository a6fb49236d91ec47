package pg

import (
	"context"
	"database/sql"
	"errors"

	"orgcore.io/internal/ids"
	"orgcore.io/internal/rbac"
)

func (s *Store) CreatePolicy(ctx context.Context, key, category string) (rbac.Policy, error) {
	if s.db == nil {
		return rbac.Policy{}, errors.New("database connection unavailable")
	}
	var p rbac.Policy
	err := s.db.QueryRowContext(ctx, `
		insert into policies (id, key, category, is_active)
		values ($1, $2, $3, true)
		returning id, key, coalesce(category, ''), is_active, created_at
	`, ids.New(), key, nullIfEmpty(category)).Scan(&p.ID, &p.Key, &p.Category, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return rbac.Policy{}, mapWriteError(err)
	}
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, policyID string) (rbac.Policy, error) {
	if s.db == nil {
		return rbac.Policy{}, errors.New("database connection unavailable")
	}
	var p rbac.Policy
	err := s.db.QueryRowContext(ctx, `
		select id, key, coalesce(category, ''), is_active, created_at
		from policies
		where id = $1
	`, policyID).Scan(&p.ID, &p.Key, &p.Category, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Policy{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Policy{}, err
	}
	return p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]rbac.Policy, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, key, coalesce(category, ''), is_active, created_at
		from policies
		order by key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []rbac.Policy
	for rows.Next() {
		var p rbac.Policy
		if err := rows.Scan(&p.ID, &p.Key, &p.Category, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return policies, nil
}

func (s *Store) SetPolicyActive(ctx context.Context, policyID string, active bool) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update policies set is_active = $2 where id = $1
	`, policyID, active)
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

// EnsurePolicies seeds catalog rows, leaving existing keys untouched.
func (s *Store) EnsurePolicies(ctx context.Context, policies []rbac.Policy) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range policies {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into policies (id, key, category, is_active)
			values ($1, $2, $3, true)
			on conflict (key) do nothing
		`, id, p.Key, nullIfEmpty(p.Category)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
