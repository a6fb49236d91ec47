package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"orgcore.io/internal/rbac"
)

const userColumns = `id, name, email, coalesce(employee_id, ''), org_unit_id,
		policy_version, is_super_admin, password_hash, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (rbac.User, error) {
	var user rbac.User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.EmployeeID,
		&user.OrgUnitID, &user.PolicyVersion, &user.IsSuperAdmin,
		&user.PasswordHash, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (rbac.User, error) {
	if s.db == nil {
		return rbac.User{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, userID)
	return scanUser(row)
}

func (s *Store) FindUserByIdentifier(ctx context.Context, identifier string) (rbac.User, error) {
	if s.db == nil {
		return rbac.User{}, errors.New("database connection unavailable")
	}
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where lower(email) = $1 or lower(coalesce(employee_id, '')) = $1
	`, identifier)
	return scanUser(row)
}

func (s *Store) UserRoles(ctx context.Context, userID string) ([]rbac.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.level, coalesce(r.description, ''), r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Level, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) PolicyVersion(ctx context.Context, userID string) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var version int64
	err := s.db.QueryRowContext(ctx, `
		select policy_version from users where id = $1
	`, userID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, rbac.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) BumpPolicyVersion(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set policy_version = policy_version + 1, updated_at = now()
		where id = $1
	`, userID)
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

// BumpPolicyVersionForRole invalidates every holder of the role in one
// statement. Zero holders is fine.
func (s *Store) BumpPolicyVersionForRole(ctx context.Context, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		update users
		set policy_version = policy_version + 1, updated_at = now()
		where id in (select user_id from user_roles where role_id = $1)
	`, roleID)
	return err
}

// BumpPolicyVersionForPolicy invalidates every user holding any role that
// contains the policy.
func (s *Store) BumpPolicyVersionForPolicy(ctx context.Context, policyID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		update users
		set policy_version = policy_version + 1, updated_at = now()
		where id in (
			select ur.user_id
			from user_roles ur
			join role_policies rp on rp.role_id = ur.role_id
			where rp.policy_id = $1
		)
	`, policyID)
	return err
}
