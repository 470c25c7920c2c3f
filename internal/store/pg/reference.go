package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"prestacao.org/internal/expense"
)

const unitColumns = `id, name, address, responsible_person, created_at, updated_at`

func scanUnit(row interface{ Scan(...any) error }) (expense.Unit, error) {
	var u expense.Unit
	err := row.Scan(&u.ID, &u.Name, &u.Address, &u.ResponsiblePerson, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUnit(ctx context.Context, u expense.Unit) (expense.Unit, error) {
	created, err := scanUnit(s.db.QueryRowContext(ctx, `
		insert into units (name, address, responsible_person)
		values ($1, $2, $3)
		returning `+unitColumns, u.Name, u.Address, u.ResponsiblePerson))
	if err != nil {
		return expense.Unit{}, mapWriteError(err, expense.ErrInvalidInput)
	}
	return created, nil
}

func (s *Store) GetUnit(ctx context.Context, id int64) (expense.Unit, error) {
	u, err := scanUnit(s.db.QueryRowContext(ctx, `select `+unitColumns+` from units where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return expense.Unit{}, expense.ErrNotFound
	}
	return u, err
}

func (s *Store) ListUnits(ctx context.Context) ([]expense.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `select `+unitColumns+` from units order by name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []expense.Unit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUnit(ctx context.Context, id int64, upd expense.UnitUpdate) (expense.Unit, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, *v)
		idx++
	}
	add("name", upd.Name)
	add("address", upd.Address)
	add("responsible_person", upd.ResponsiblePerson)
	if len(setClauses) == 0 {
		return s.GetUnit(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	query := fmt.Sprintf(`update units set %s where id = $%d returning %s`, strings.Join(setClauses, ", "), idx, unitColumns)
	args = append(args, id)

	u, err := scanUnit(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return expense.Unit{}, expense.ErrNotFound
	}
	if err != nil {
		return expense.Unit{}, mapWriteError(err, expense.ErrInvalidInput)
	}
	return u, nil
}

func (s *Store) DeleteUnit(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from units where id = $1`, id)
	if err != nil {
		return mapWriteError(err, expense.ErrReferenced)
	}
	return rowsAffected(res)
}

const costCenterColumns = `id, code, name, description, created_at, updated_at`

func scanCostCenter(row interface{ Scan(...any) error }) (expense.CostCenter, error) {
	var c expense.CostCenter
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) CreateCostCenter(ctx context.Context, c expense.CostCenter) (expense.CostCenter, error) {
	created, err := scanCostCenter(s.db.QueryRowContext(ctx, `
		insert into cost_centers (code, name, description)
		values ($1, $2, $3)
		returning `+costCenterColumns, c.Code, c.Name, c.Description))
	if err != nil {
		return expense.CostCenter{}, mapWriteError(err, expense.ErrInvalidInput)
	}
	return created, nil
}

func (s *Store) GetCostCenter(ctx context.Context, id int64) (expense.CostCenter, error) {
	c, err := scanCostCenter(s.db.QueryRowContext(ctx, `select `+costCenterColumns+` from cost_centers where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return expense.CostCenter{}, expense.ErrNotFound
	}
	return c, err
}

func (s *Store) ListCostCenters(ctx context.Context) ([]expense.CostCenter, error) {
	rows, err := s.db.QueryContext(ctx, `select `+costCenterColumns+` from cost_centers order by code, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []expense.CostCenter{}
	for rows.Next() {
		c, err := scanCostCenter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCostCenter(ctx context.Context, id int64, upd expense.CostCenterUpdate) (expense.CostCenter, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, *v)
		idx++
	}
	add("code", upd.Code)
	add("name", upd.Name)
	add("description", upd.Description)
	if len(setClauses) == 0 {
		return s.GetCostCenter(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	query := fmt.Sprintf(`update cost_centers set %s where id = $%d returning %s`, strings.Join(setClauses, ", "), idx, costCenterColumns)
	args = append(args, id)

	c, err := scanCostCenter(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return expense.CostCenter{}, expense.ErrNotFound
	}
	if err != nil {
		return expense.CostCenter{}, mapWriteError(err, expense.ErrInvalidInput)
	}
	return c, nil
}

func (s *Store) DeleteCostCenter(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from cost_centers where id = $1`, id)
	if err != nil {
		return mapWriteError(err, expense.ErrReferenced)
	}
	return rowsAffected(res)
}
