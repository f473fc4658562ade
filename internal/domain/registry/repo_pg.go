package registry

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// filter accumulates WHERE conditions; cond holds one %d for the placeholder.
type filter struct {
	where string
	args  []interface{}
}

func (f *filter) add(cond string, v interface{}) {
	f.args = append(f.args, v)
	f.where += " AND " + fmt.Sprintf(cond, len(f.args))
}

func (f *filter) page(limit, offset int) string {
	n := len(f.args)
	f.args = append(f.args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
}

// searchCommon applies the filters shared by every registry.
func searchCommon(f *filter, params map[string]string, dateCol string) {
	if p, ok := params["area"]; ok {
		f.add("area ILIKE $%d", "%"+p+"%")
	}
	if p, ok := params["hospital_number"]; ok {
		f.add("hospital_number = $%d", p)
	}
	if p, ok := params["from"]; ok {
		f.add(dateCol+" >= $%d", p)
	}
	if p, ok := params["to"]; ok {
		f.add(dateCol+" <= $%d", p)
	}
}

func deleteByID(ctx context.Context, q queryable, table string, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var items []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func search[T any](ctx context.Context, q queryable, cols, table, order string, f *filter, limit, offset int, scan func(pgx.Row) (*T, error)) ([]*T, int, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE 1=1`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + cols + ` FROM ` + table + ` WHERE 1=1` + f.where + ` ORDER BY ` + order + f.page(limit, offset)
	rows, err := q.Query(ctx, query, f.args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows, scan)
	return items, total, err
}

// =========== Notifiable Report Repository ===========

type notifiableRepoPG struct{ pool *pgxpool.Pool }

func NewNotifiableRepoPG(pool *pgxpool.Pool) NotifiableRepository {
	return &notifiableRepoPG{pool: pool}
}

const notifiableCols = `id, patient_name, hospital_number, age, sex, disease, tb_site, area,
	onset_date::text, date_reported::text, status, reported_by, reviewed_by, reviewed_at,
	review_note, notes, created_at, updated_at`

func scanNotifiable(row pgx.Row) (*NotifiableReport, error) {
	var r NotifiableReport
	err := row.Scan(&r.ID, &r.PatientName, &r.HospitalNumber, &r.Age, &r.Sex, &r.Disease, &r.TBSite, &r.Area,
		&r.OnsetDate, &r.DateReported, &r.Status, &r.ReportedBy, &r.ReviewedBy, &r.ReviewedAt,
		&r.ReviewNote, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (r *notifiableRepoPG) Create(ctx context.Context, n *NotifiableReport) error {
	n.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notifiable_report (id, patient_name, hospital_number, age, sex, disease, tb_site,
			area, onset_date, date_reported, status, reported_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		n.ID, n.PatientName, n.HospitalNumber, n.Age, n.Sex, n.Disease, n.TBSite,
		n.Area, n.OnsetDate, n.DateReported, n.Status, n.ReportedBy, n.Notes,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
}

func (r *notifiableRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*NotifiableReport, error) {
	n, err := scanNotifiable(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+notifiableCols+` FROM notifiable_report WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return n, nil
}

func (r *notifiableRepoPG) Update(ctx context.Context, n *NotifiableReport) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE notifiable_report SET patient_name=$2, hospital_number=$3, age=$4, sex=$5, disease=$6,
			tb_site=$7, area=$8, onset_date=$9, date_reported=$10, notes=$11, updated_at=NOW()
		WHERE id = $1 AND status = 'pending'`,
		n.ID, n.PatientName, n.HospitalNumber, n.Age, n.Sex, n.Disease,
		n.TBSite, n.Area, n.OnsetDate, n.DateReported, n.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *notifiableRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, connFor(ctx, r.pool), "notifiable_report", id)
}

func (r *notifiableRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*NotifiableReport, int, error) {
	f := &filter{}
	searchCommon(f, params, "date_reported")
	if p, ok := params["disease"]; ok {
		f.add("disease = $%d", p)
	}
	if p, ok := params["status"]; ok {
		f.add("status = $%d", p)
	}
	return search(ctx, connFor(ctx, r.pool), notifiableCols, "notifiable_report", "date_reported DESC, created_at DESC", f, limit, offset, scanNotifiable)
}

func (r *notifiableRepoPG) SetReview(ctx context.Context, id uuid.UUID, status, reviewer string, note *string) error {
	q := connFor(ctx, r.pool)
	tag, err := q.Exec(ctx, `
		UPDATE notifiable_report SET status=$2, reviewed_by=$3, reviewed_at=NOW(), review_note=$4, updated_at=NOW()
		WHERE id = $1 AND status = 'pending'`, id, status, reviewer, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

// =========== Isolation Admission Repository ===========

type isolationRepoPG struct{ pool *pgxpool.Pool }

func NewIsolationRepoPG(pool *pgxpool.Pool) IsolationRepository {
	return &isolationRepoPG{pool: pool}
}

const isolationCols = `id, patient_name, hospital_number, area, precaution, reason,
	admitted_at::text, discharged_at::text, notes, recorded_by, created_at, updated_at`

func scanIsolation(row pgx.Row) (*IsolationAdmission, error) {
	var a IsolationAdmission
	err := row.Scan(&a.ID, &a.PatientName, &a.HospitalNumber, &a.Area, &a.Precaution, &a.Reason,
		&a.AdmittedAt, &a.DischargedAt, &a.Notes, &a.RecordedBy, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *isolationRepoPG) Create(ctx context.Context, a *IsolationAdmission) error {
	a.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO isolation_admission (id, patient_name, hospital_number, area, precaution, reason,
			admitted_at, discharged_at, notes, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientName, a.HospitalNumber, a.Area, a.Precaution, a.Reason,
		a.AdmittedAt, a.DischargedAt, a.Notes, a.RecordedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *isolationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*IsolationAdmission, error) {
	a, err := scanIsolation(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+isolationCols+` FROM isolation_admission WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return a, nil
}

func (r *isolationRepoPG) Update(ctx context.Context, a *IsolationAdmission) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE isolation_admission SET patient_name=$2, hospital_number=$3, area=$4, precaution=$5,
			reason=$6, admitted_at=$7, notes=$8, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.PatientName, a.HospitalNumber, a.Area, a.Precaution, a.Reason, a.AdmittedAt, a.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *isolationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, connFor(ctx, r.pool), "isolation_admission", id)
}

func (r *isolationRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*IsolationAdmission, int, error) {
	f := &filter{}
	searchCommon(f, params, "admitted_at")
	if p, ok := params["precaution"]; ok {
		f.add("precaution = $%d", p)
	}
	if params["active"] == "true" {
		f.where += " AND discharged_at IS NULL"
	}
	return search(ctx, connFor(ctx, r.pool), isolationCols, "isolation_admission", "admitted_at DESC, created_at DESC", f, limit, offset, scanIsolation)
}

func (r *isolationRepoPG) Discharge(ctx context.Context, id uuid.UUID, date string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE isolation_admission SET discharged_at=$2, updated_at=NOW()
		WHERE id = $1 AND discharged_at IS NULL`, id, date)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyDischarged
	}
	return nil
}

// =========== Sharps Injury Repository ===========

type sharpsRepoPG struct{ pool *pgxpool.Pool }

func NewSharpsRepoPG(pool *pgxpool.Pool) SharpsRepository {
	return &sharpsRepoPG{pool: pool}
}

const sharpsCols = `id, staff_name, staff_role, area, injury_date::text, device, procedure,
	source_known, pep_given, notes, reported_by, created_at, updated_at`

func scanSharps(row pgx.Row) (*SharpsInjury, error) {
	var s SharpsInjury
	err := row.Scan(&s.ID, &s.StaffName, &s.StaffRole, &s.Area, &s.InjuryDate, &s.Device, &s.Procedure,
		&s.SourceKnown, &s.PEPGiven, &s.Notes, &s.ReportedBy, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *sharpsRepoPG) Create(ctx context.Context, s *SharpsInjury) error {
	s.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO sharps_injury (id, staff_name, staff_role, area, injury_date, device, procedure,
			source_known, pep_given, notes, reported_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		s.ID, s.StaffName, s.StaffRole, s.Area, s.InjuryDate, s.Device, s.Procedure,
		s.SourceKnown, s.PEPGiven, s.Notes, s.ReportedBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *sharpsRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SharpsInjury, error) {
	s, err := scanSharps(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+sharpsCols+` FROM sharps_injury WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return s, nil
}

func (r *sharpsRepoPG) Update(ctx context.Context, s *SharpsInjury) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE sharps_injury SET staff_name=$2, staff_role=$3, area=$4, injury_date=$5, device=$6,
			procedure=$7, source_known=$8, pep_given=$9, notes=$10, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.StaffName, s.StaffRole, s.Area, s.InjuryDate, s.Device,
		s.Procedure, s.SourceKnown, s.PEPGiven, s.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *sharpsRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, connFor(ctx, r.pool), "sharps_injury", id)
}

func (r *sharpsRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*SharpsInjury, int, error) {
	f := &filter{}
	if p, ok := params["area"]; ok {
		f.add("area ILIKE $%d", "%"+p+"%")
	}
	if p, ok := params["staff_role"]; ok {
		f.add("staff_role = $%d", p)
	}
	if p, ok := params["from"]; ok {
		f.add("injury_date >= $%d", p)
	}
	if p, ok := params["to"]; ok {
		f.add("injury_date <= $%d", p)
	}
	return search(ctx, connFor(ctx, r.pool), sharpsCols, "sharps_injury", "injury_date DESC, created_at DESC", f, limit, offset, scanSharps)
}

// =========== Culture Result Repository ===========

type cultureRepoPG struct{ pool *pgxpool.Pool }

func NewCultureRepoPG(pool *pgxpool.Pool) CultureRepository {
	return &cultureRepoPG{pool: pool}
}

const cultureCols = `id, patient_name, hospital_number, area, specimen, organism,
	collected_at::text, susceptibilities, notes, recorded_by, created_at, updated_at`

func scanCulture(row pgx.Row) (*CultureResult, error) {
	var c CultureResult
	err := row.Scan(&c.ID, &c.PatientName, &c.HospitalNumber, &c.Area, &c.Specimen, &c.Organism,
		&c.CollectedAt, &c.Susceptibilities, &c.Notes, &c.RecordedBy, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *cultureRepoPG) Create(ctx context.Context, c *CultureResult) error {
	c.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO culture_result (id, patient_name, hospital_number, area, specimen, organism,
			collected_at, susceptibilities, notes, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientName, c.HospitalNumber, c.Area, c.Specimen, c.Organism,
		c.CollectedAt, c.Susceptibilities, c.Notes, c.RecordedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *cultureRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CultureResult, error) {
	c, err := scanCulture(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+cultureCols+` FROM culture_result WHERE id = $1`, id))
	if err != nil {
		return nil, db.NotFound(err)
	}
	return c, nil
}

func (r *cultureRepoPG) Update(ctx context.Context, c *CultureResult) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE culture_result SET patient_name=$2, hospital_number=$3, area=$4, specimen=$5,
			organism=$6, collected_at=$7, susceptibilities=$8, notes=$9, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.PatientName, c.HospitalNumber, c.Area, c.Specimen,
		c.Organism, c.CollectedAt, c.Susceptibilities, c.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *cultureRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, connFor(ctx, r.pool), "culture_result", id)
}

func (r *cultureRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*CultureResult, int, error) {
	f := &filter{}
	searchCommon(f, params, "collected_at")
	if p, ok := params["organism"]; ok {
		f.add("organism ILIKE $%d", "%"+p+"%")
	}
	if p, ok := params["specimen"]; ok {
		f.add("specimen = $%d", p)
	}
	return search(ctx, connFor(ctx, r.pool), cultureCols, "culture_result", "collected_at DESC, created_at DESC", f, limit, offset, scanCulture)
}

func (r *cultureRepoPG) ListInPeriod(ctx context.Context, p surveillance.Period) ([]*CultureResult, error) {
	f := &filter{}
	if !p.From.IsZero() {
		f.add("collected_at >= $%d", p.From)
	}
	if !p.To.IsZero() {
		f.add("collected_at <= $%d", p.To)
	}
	q := connFor(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT `+cultureCols+` FROM culture_result WHERE 1=1`+f.where+` ORDER BY collected_at`, f.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCulture)
}
