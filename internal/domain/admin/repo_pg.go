package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hospital/booking/internal/domain/scheduling"
	"github.com/hospital/booking/internal/platform/db"
)

type directoryRepoPG struct {
	pool db.Querier
}

func NewDirectoryRepo(pool db.Querier) DirectoryRepository {
	return &directoryRepoPG{pool: pool}
}

func notFound(what string, id int64) error {
	return &scheduling.Error{Kind: scheduling.KindNotFound, Message: fmt.Sprintf("%s %d not found", what, id)}
}

func parsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d, nil
}

const doctorColumns = `d.id, COALESCE(d.user_id, ''), d.name, d.department_id, dep.name, dep.price::text, d.is_active`

func (r *directoryRepoPG) scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var price string
	if err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.DepartmentID, &d.DepartmentName, &price, &d.IsActive); err != nil {
		return nil, err
	}
	p, err := parsePrice(price)
	if err != nil {
		return nil, err
	}
	d.Price = p
	return &d, nil
}

func (r *directoryRepoPG) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	d, err := r.scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctor d JOIN department dep ON dep.id = d.department_id
		WHERE d.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("doctor", id)
	}
	return d, err
}

func (r *directoryRepoPG) ListDoctors(ctx context.Context, departmentID int64, limit, offset int) ([]*Doctor, int, error) {
	where := ` WHERE d.is_active`
	args := []interface{}{}
	if departmentID != 0 {
		where += ` AND d.department_id = $1`
		args = append(args, departmentID)
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM doctor d`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}

	query := `SELECT ` + doctorColumns + ` FROM doctor d JOIN department dep ON dep.id = d.department_id` + where +
		fmt.Sprintf(` ORDER BY d.name LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := r.scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

const departmentColumns = `id, name, COALESCE(description, ''), price::text, created_at, updated_at`

func (r *directoryRepoPG) scanDepartment(row pgx.Row) (*Department, error) {
	var d Department
	var price string
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &price, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := parsePrice(price)
	if err != nil {
		return nil, err
	}
	d.Price = p
	return &d, nil
}

func (r *directoryRepoPG) GetDepartment(ctx context.Context, id int64) (*Department, error) {
	d, err := r.scanDepartment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+departmentColumns+` FROM department WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("department", id)
	}
	return d, err
}

func (r *directoryRepoPG) ListDepartments(ctx context.Context, limit, offset int) ([]*Department, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM department`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count departments: %w", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+departmentColumns+` FROM department ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()
	var items []*Department
	for rows.Next() {
		d, err := r.scanDepartment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *directoryRepoPG) UpdateDepartmentPrice(ctx context.Context, id int64, price decimal.Decimal) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE department SET price = $2::numeric, updated_at = NOW() WHERE id = $1`, id, price.StringFixed(2))
	if err != nil {
		return fmt.Errorf("update department price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("department", id)
	}
	return nil
}
