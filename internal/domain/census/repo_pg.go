package census

import (
	"context"
	"fmt"
	"strings"
	"time"

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

type censusRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &censusRepoPG{pool: pool} }

func (r *censusRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// countCols follows wardFields order: patients, vent, ifc, central per block.
var countCols = func() []string {
	var cols []string
	for _, f := range wardFields {
		cols = append(cols, f.prefix+"_patients", f.prefix+"_vent", f.prefix+"_ifc", f.prefix+"_central")
	}
	return cols
}()

var censusCols = `id, log_date, ` + strings.Join(countCols, ", ") + `, notes, recorded_by, created_at, updated_at`

var upsertSQL = func() string {
	cols := append([]string{"id", "log_date"}, countCols...)
	cols = append(cols, "notes", "recorded_by")
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(countCols)+3)
	for _, c := range countCols {
		sets = append(sets, c+" = EXCLUDED."+c)
	}
	sets = append(sets, "notes = EXCLUDED.notes", "recorded_by = EXCLUDED.recorded_by", "updated_at = NOW()")
	return `INSERT INTO census_log (` + strings.Join(cols, ", ") + `)
		VALUES (` + strings.Join(ph, ",") + `)
		ON CONFLICT (log_date) DO UPDATE SET ` + strings.Join(sets, ", ") + `
		RETURNING id, created_at, updated_at`
}()

func countTargets(c *DailyCensus) []interface{} {
	out := make([]interface{}, 0, len(countCols))
	for _, f := range wardFields {
		w := f.block(c)
		out = append(out, &w.Patients, &w.Vent, &w.IFC, &w.Central)
	}
	return out
}

func countValues(c *DailyCensus) []interface{} {
	out := make([]interface{}, 0, len(countCols))
	for _, f := range wardFields {
		w := f.block(c)
		out = append(out, w.Patients, w.Vent, w.IFC, w.Central)
	}
	return out
}

func (r *censusRepoPG) scan(row pgx.Row) (*DailyCensus, error) {
	var c DailyCensus
	var day time.Time
	targets := append([]interface{}{&c.ID, &day}, countTargets(&c)...)
	targets = append(targets, &c.Notes, &c.RecordedBy, &c.CreatedAt, &c.UpdatedAt)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	c.Date = day.Format("2006-01-02")
	return &c, nil
}

func parseDay(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func (r *censusRepoPG) Upsert(ctx context.Context, c *DailyCensus) error {
	day, err := parseDay(c.Date)
	if err != nil {
		return err
	}
	args := append([]interface{}{uuid.New(), day}, countValues(c)...)
	args = append(args, c.Notes, c.RecordedBy)
	return r.conn(ctx).QueryRow(ctx, upsertSQL, args...).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *censusRepoPG) GetByDate(ctx context.Context, date string) (*DailyCensus, error) {
	day, err := parseDay(date)
	if err != nil {
		return nil, err
	}
	c, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+censusCols+` FROM census_log WHERE log_date = $1`, day))
	return c, db.NotFound(err)
}

func (r *censusRepoPG) Delete(ctx context.Context, date string) error {
	day, err := parseDay(date)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM census_log WHERE log_date = $1`, day)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func periodWhere(p surveillance.Period) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	if !p.From.IsZero() {
		args = append(args, p.From)
		where += fmt.Sprintf(` AND log_date >= $%d`, len(args))
	}
	if !p.To.IsZero() {
		args = append(args, p.To)
		where += fmt.Sprintf(` AND log_date <= $%d`, len(args))
	}
	return where, args
}

func (r *censusRepoPG) List(ctx context.Context, p surveillance.Period, limit, offset int) ([]*DailyCensus, int, error) {
	where, args := periodWhere(p)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM census_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	idx := len(args) + 1
	query := `SELECT ` + censusCols + ` FROM census_log` + where +
		fmt.Sprintf(` ORDER BY log_date DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DailyCensus
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *censusRepoPG) ListAll(ctx context.Context, p surveillance.Period) ([]*DailyCensus, error) {
	where, args := periodWhere(p)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+censusCols+` FROM census_log`+where+` ORDER BY log_date`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DailyCensus
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
