package hai

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

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository { return &caseRepoPG{pool: pool} }

func (r *caseRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const caseCols = `id, patient_name, hospital_number, age, sex, area, hai_type,
	onset_date::text, device_inserted_at::text, organism, notes, status, reported_by,
	reviewed_by, reviewed_at, review_note, created_at, updated_at`

func (r *caseRepoPG) scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.PatientName, &c.HospitalNumber, &c.Age, &c.Sex, &c.Area, &c.HAIType,
		&c.OnsetDate, &c.DeviceInsertedAt, &c.Organism, &c.Notes, &c.Status, &c.ReportedBy,
		&c.ReviewedBy, &c.ReviewedAt, &c.ReviewNote, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hai_case (id, patient_name, hospital_number, age, sex, area, hai_type,
			onset_date, device_inserted_at, organism, notes, status, reported_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientName, c.HospitalNumber, c.Age, c.Sex, c.Area, c.HAIType,
		c.OnsetDate, c.DeviceInsertedAt, c.Organism, c.Notes, c.Status, c.ReportedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := r.scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM hai_case WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return c, nil
}

func (r *caseRepoPG) Update(ctx context.Context, c *Case) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hai_case SET patient_name=$2, hospital_number=$3, age=$4, sex=$5, area=$6,
			hai_type=$7, onset_date=$8, device_inserted_at=$9, organism=$10, notes=$11,
			updated_at=NOW()
		WHERE id = $1 AND status = 'pending'`,
		c.ID, c.PatientName, c.HospitalNumber, c.Age, c.Sex, c.Area,
		c.HAIType, c.OnsetDate, c.DeviceInsertedAt, c.Organism, c.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *caseRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM hai_case WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *caseRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Case, int, error) {
	query := `SELECT ` + caseCols + ` FROM hai_case WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM hai_case WHERE 1=1`
	var args []interface{}
	idx := 1

	if p, ok := params["status"]; ok {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["hai_type"]; ok {
		query += fmt.Sprintf(` AND hai_type = $%d`, idx)
		countQuery += fmt.Sprintf(` AND hai_type = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["area"]; ok {
		query += fmt.Sprintf(` AND area ILIKE $%d`, idx)
		countQuery += fmt.Sprintf(` AND area ILIKE $%d`, idx)
		args = append(args, "%"+p+"%")
		idx++
	}
	if p, ok := params["from"]; ok {
		query += fmt.Sprintf(` AND onset_date >= $%d`, idx)
		countQuery += fmt.Sprintf(` AND onset_date >= $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["to"]; ok {
		query += fmt.Sprintf(` AND onset_date <= $%d`, idx)
		countQuery += fmt.Sprintf(` AND onset_date <= $%d`, idx)
		args = append(args, p)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY onset_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *caseRepoPG) SetReview(ctx context.Context, id uuid.UUID, rv Review) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hai_case SET status=$2, reviewed_by=$3, reviewed_at=$4, review_note=$5, updated_at=NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, rv.Status, rv.Reviewer, rv.At, rv.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM hai_case WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return db.ErrNotFound
		}
		return ErrNotPending
	}
	return nil
}

func (r *caseRepoPG) ListValidated(ctx context.Context, p surveillance.Period) ([]*Case, error) {
	query := `SELECT ` + caseCols + ` FROM hai_case WHERE status = 'validated'`
	var args []interface{}
	if !p.From.IsZero() {
		args = append(args, p.From)
		query += fmt.Sprintf(` AND onset_date >= $%d`, len(args))
	}
	if !p.To.IsZero() {
		args = append(args, p.To)
		query += fmt.Sprintf(` AND onset_date <= $%d`, len(args))
	}
	query += ` ORDER BY onset_date`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
