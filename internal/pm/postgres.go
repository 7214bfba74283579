package pm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresDirectory reads the pm schema of the application database.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) ProjectManager(ctx context.Context, projectCode string) (Employee, error) {
	var (
		managerID sql.NullInt64
		name      sql.NullString
		email     sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT e.id, e.full_name, e.email
		FROM pm.projects p
		LEFT JOIN pm.employees e ON e.id = p.pm_employee_id AND e.is_active
		WHERE p.code = $1 AND p.is_active
	`, strings.TrimSpace(projectCode)).Scan(&managerID, &name, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return Employee{}, fmt.Errorf("%w: %s", ErrProjectNotFound, projectCode)
	}
	if err != nil {
		return Employee{}, fmt.Errorf("lookup project manager: %w", err)
	}
	if !managerID.Valid {
		return Employee{}, fmt.Errorf("%w: %s", ErrProjectManagerNotFound, projectCode)
	}
	return Employee{ID: managerID.Int64, FullName: name.String, Email: email.String}, nil
}

func (d *PostgresDirectory) Lookup(ctx context.Context, group, code string) (LookupValue, error) {
	var item LookupValue
	err := d.db.QueryRowContext(ctx, `
		SELECT id, group_name, code, label, sort_order
		FROM pm.lookups
		WHERE group_name = $1 AND UPPER(code) = UPPER($2) AND is_active
	`, group, strings.TrimSpace(code)).Scan(&item.ID, &item.Group, &item.Code, &item.Label, &item.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return LookupValue{}, fmt.Errorf("%w: %s/%s", ErrLookupNotFound, group, code)
	}
	if err != nil {
		return LookupValue{}, fmt.Errorf("lookup %s: %w", group, err)
	}
	return item, nil
}

func (d *PostgresDirectory) ListLookups(ctx context.Context, group string) ([]LookupValue, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, group_name, code, label, sort_order
		FROM pm.lookups
		WHERE group_name = $1 AND is_active
		ORDER BY sort_order, label
	`, group)
	if err != nil {
		return nil, fmt.Errorf("list lookups: %w", err)
	}
	defer rows.Close()

	items := make([]LookupValue, 0)
	for rows.Next() {
		var item LookupValue
		if err := rows.Scan(&item.ID, &item.Group, &item.Code, &item.Label, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan lookup: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lookups: %w", err)
	}
	return items, nil
}
