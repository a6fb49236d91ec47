package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"orgcore.io/internal/ids"
	"orgcore.io/internal/rbac"
)

func (s *Store) CreateRole(ctx context.Context, name, description string, level int) (rbac.Role, error) {
	if s.db == nil {
		return rbac.Role{}, errors.New("database connection unavailable")
	}
	var (
		role rbac.Role
		desc sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, level, description)
		values ($1, $2, $3, $4)
		returning id, name, level, description, created_at, updated_at
	`, ids.New(), name, level, nullIfEmpty(description))
	if err := row.Scan(&role.ID, &role.Name, &role.Level, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return rbac.Role{}, mapWriteError(err)
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (rbac.Role, error) {
	if s.db == nil {
		return rbac.Role{}, errors.New("database connection unavailable")
	}
	var (
		role rbac.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, level, description, created_at, updated_at
		from roles
		where id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.Level, &desc, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, level, description, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var (
			role rbac.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Level, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd rbac.RoleUpdate) (rbac.Role, error) {
	if s.db == nil {
		return rbac.Role{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Level != nil {
		sets = append(sets, fmt.Sprintf("level = $%d", idx))
		args = append(args, *upd.Level)
		idx++
	}
	if upd.Description != nil {
		if *upd.Description == "" {
			sets = append(sets, "description = NULL")
		} else {
			sets = append(sets, fmt.Sprintf("description = $%d", idx))
			args = append(args, *upd.Description)
			idx++
		}
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, roleID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return rbac.Role{}, mapWriteError(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return rbac.Role{}, err
		}
		if aff == 0 {
			return rbac.Role{}, rbac.ErrNotFound
		}
	}
	return s.GetRole(ctx, roleID)
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
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

func (s *Store) RolePolicies(ctx context.Context, roleID string) ([]rbac.Policy, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.key, coalesce(p.category, ''), p.is_active, p.created_at
		from role_policies rp
		join policies p on p.id = rp.policy_id
		where rp.role_id = $1
		order by p.key
	`, roleID)
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

func (s *Store) SetRolePolicies(ctx context.Context, roleID string, policyKeys []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_policies where role_id = $1`, roleID); err != nil {
		return err
	}
	if len(policyKeys) == 0 {
		return tx.Commit()
	}

	for _, key := range policyKeys {
		var policyID string
		err := tx.QueryRowContext(ctx, `select id from policies where key = $1`, key).Scan(&policyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: policy %s not found", rbac.ErrNotFound, key)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_policies (role_id, policy_id)
			values ($1, $2)
		`, roleID, policyID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) (rbac.UserRole, error) {
	if s.db == nil {
		return rbac.UserRole{}, errors.New("database connection unavailable")
	}
	var link rbac.UserRole
	err := s.db.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		returning user_id, role_id, created_at
	`, userID, roleID).Scan(&link.UserID, &link.RoleID, &link.CreatedAt)
	if err != nil {
		return rbac.UserRole{}, mapWriteError(err)
	}
	return link, nil
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role_id = $2
	`, userID, roleID)
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
