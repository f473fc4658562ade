package actionplan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipc/ipc/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type planRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &planRepoPG{pool: pool} }

func (r *planRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const planCols = `id, title, area, issue, action, owner, due_date::text, status, audit_id,
	completed_at, created_by, created_at, updated_at`

func (r *planRepoPG) scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Title, &p.Area, &p.Issue, &p.Action, &p.Owner, &p.DueDate, &p.Status,
		&p.AuditID, &p.CompletedAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *planRepoPG) Create(ctx context.Context, p *Plan) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO action_plan (id, title, area, issue, action, owner, due_date, status, audit_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.Title, p.Area, p.Issue, p.Action, p.Owner, p.DueDate, p.Status, p.AuditID, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *planRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	p, err := r.scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM action_plan WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return p, nil
}

func (r *planRepoPG) Update(ctx context.Context, p *Plan) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE action_plan SET title=$2, area=$3, issue=$4, action=$5, owner=$6, due_date=$7,
			audit_id=$8, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Title, p.Area, p.Issue, p.Action, p.Owner, p.DueDate, p.AuditID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *planRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM action_plan WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *planRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Plan, int, error) {
	query := `SELECT ` + planCols + ` FROM action_plan WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM action_plan WHERE 1=1`
	var args []interface{}
	idx := 1

	if p, ok := params["status"]; ok {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["area"]; ok {
		query += fmt.Sprintf(` AND area ILIKE $%d`, idx)
		countQuery += fmt.Sprintf(` AND area ILIKE $%d`, idx)
		args = append(args, "%"+p+"%")
		idx++
	}
	if p, ok := params["owner"]; ok {
		query += fmt.Sprintf(` AND owner = $%d`, idx)
		countQuery += fmt.Sprintf(` AND owner = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["audit_id"]; ok {
		query += fmt.Sprintf(` AND audit_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND audit_id = $%d`, idx)
		args = append(args, p)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY due_date, created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Plan
	for rows.Next() {
		p, err := r.scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *planRepoPG) SetStatus(ctx context.Context, id uuid.UUID, from, to string, completedAt *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE action_plan SET status=$3, completed_at=$4, updated_at=NOW()
		WHERE id = $1 AND status = $2`, id, from, to, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *planRepoPG) ListActive(ctx context.Context) ([]*Plan, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+planCols+` FROM action_plan
		WHERE status IN ('open', 'in_progress') ORDER BY due_date, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Plan
	for rows.Next() {
		p, err := r.scanPlan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
