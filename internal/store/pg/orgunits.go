package pg

import (
	"context"
	"errors"

	"orgcore.io/internal/ids"
	"orgcore.io/internal/rbac"
)

func (s *Store) ListOrgUnits(ctx context.Context) ([]rbac.OrgUnit, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, parent_id, created_at
		from org_units
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []rbac.OrgUnit
	for rows.Next() {
		var unit rbac.OrgUnit
		if err := rows.Scan(&unit.ID, &unit.Name, &unit.ParentID, &unit.CreatedAt); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

func (s *Store) CreateOrgUnit(ctx context.Context, name string, parentID *string) (rbac.OrgUnit, error) {
	if s.db == nil {
		return rbac.OrgUnit{}, errors.New("database connection unavailable")
	}
	var unit rbac.OrgUnit
	err := s.db.QueryRowContext(ctx, `
		insert into org_units (id, name, parent_id)
		values ($1, $2, $3)
		returning id, name, parent_id, created_at
	`, ids.New(), name, parentID).Scan(&unit.ID, &unit.Name, &unit.ParentID, &unit.CreatedAt)
	if err != nil {
		return rbac.OrgUnit{}, mapWriteError(err)
	}
	return unit, nil
}
