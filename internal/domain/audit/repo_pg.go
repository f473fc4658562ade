package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &auditRepoPG{pool: pool} }

func (r *auditRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const auditCols = `id, kind, area, audit_date::text, auditor, bundle, items, score, notes, recorded_by, created_at, updated_at`

func (r *auditRepoPG) scanAudit(row pgx.Row) (*Audit, error) {
	var a Audit
	err := row.Scan(&a.ID, &a.Kind, &a.Area, &a.AuditDate, &a.Auditor, &a.Bundle, &a.Items, &a.Score,
		&a.Notes, &a.RecordedBy, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *auditRepoPG) Create(ctx context.Context, a *Audit) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ipc_audit (id, kind, area, audit_date, auditor, bundle, items, score, notes, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.Kind, a.Area, a.AuditDate, a.Auditor, a.Bundle, a.Items, a.Score, a.Notes, a.RecordedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *auditRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Audit, error) {
	a, err := r.scanAudit(r.conn(ctx).QueryRow(ctx, `SELECT `+auditCols+` FROM ipc_audit WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return a, nil
}

func (r *auditRepoPG) Update(ctx context.Context, a *Audit) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ipc_audit SET kind=$2, area=$3, audit_date=$4, auditor=$5, bundle=$6, items=$7,
			score=$8, notes=$9, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Kind, a.Area, a.AuditDate, a.Auditor, a.Bundle, a.Items, a.Score, a.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *auditRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM ipc_audit WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *auditRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Audit, int, error) {
	query := `SELECT ` + auditCols + ` FROM ipc_audit WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM ipc_audit WHERE 1=1`
	var args []interface{}
	idx := 1

	if p, ok := params["kind"]; ok {
		query += fmt.Sprintf(` AND kind = $%d`, idx)
		countQuery += fmt.Sprintf(` AND kind = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["area"]; ok {
		query += fmt.Sprintf(` AND area ILIKE $%d`, idx)
		countQuery += fmt.Sprintf(` AND area ILIKE $%d`, idx)
		args = append(args, "%"+p+"%")
		idx++
	}
	if p, ok := params["bundle"]; ok {
		query += fmt.Sprintf(` AND bundle = $%d`, idx)
		countQuery += fmt.Sprintf(` AND bundle = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["from"]; ok {
		query += fmt.Sprintf(` AND audit_date >= $%d`, idx)
		countQuery += fmt.Sprintf(` AND audit_date >= $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["to"]; ok {
		query += fmt.Sprintf(` AND audit_date <= $%d`, idx)
		countQuery += fmt.Sprintf(` AND audit_date <= $%d`, idx)
		args = append(args, p)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY audit_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Audit
	for rows.Next() {
		a, err := r.scanAudit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *auditRepoPG) ListInPeriod(ctx context.Context, p surveillance.Period) ([]*Audit, error) {
	query := `SELECT ` + auditCols + ` FROM ipc_audit WHERE 1=1`
	var args []interface{}
	if !p.From.IsZero() {
		args = append(args, p.From)
		query += fmt.Sprintf(` AND audit_date >= $%d`, len(args))
	}
	if !p.To.IsZero() {
		args = append(args, p.To)
		query += fmt.Sprintf(` AND audit_date <= $%d`, len(args))
	}
	query += ` ORDER BY audit_date`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Audit
	for rows.Next() {
		a, err := r.scanAudit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
