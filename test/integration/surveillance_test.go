//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/domain/census"
	"github.com/ipc/ipc/internal/domain/hai"
	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/cache"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/internal/platform/events"
)

func TestMigrations_Idempotent(t *testing.T) {
	tenantID := createTenant(t, "mig")
	schema, _ := db.SchemaName(tenantID)
	ctx := context.Background()

	n, err := globalDB.Migrator.Up(ctx, schema)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations, applied %d", n)
	}

	statuses, err := globalDB.Migrator.Status(ctx, schema)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %d %s not applied", s.Version, s.Name)
		}
	}
}

func TestInfectionRates_EndToEnd(t *testing.T) {
	tenantID := createTenant(t, "rates")

	censusSvc := census.NewService(census.NewRepoPG(globalDB.Pool), events.Nop)
	haiSvc := hai.NewService(hai.NewCaseRepoPG(globalDB.Pool), events.Nop)
	survSvc := surveillance.NewService(censusSvc, haiSvc, zerolog.Nop())
	survSvc.SetCache(cache.NewVersioned(cache.NewMemoryKV(), "ipc:rates", 0))

	period, err := surveillance.ParsePeriod("2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatal(err)
	}

	var pending *hai.Case
	withTenant(t, tenantID, func(ctx context.Context) error {
		for _, date := range []string{"2024-01-01", "2024-01-02"} {
			c := &census.DailyCensus{
				Date:    date,
				Overall: surveillance.WardCensus{Patients: 50, Vent: 5, IFC: 10, Central: 4},
				ICU:     surveillance.WardCensus{Patients: 10, Vent: 5, IFC: 3, Central: 4},
			}
			if err := censusSvc.Record(ctx, c); err != nil {
				return fmt.Errorf("record census %s: %w", date, err)
			}
		}
		// Outside the period.
		if err := censusSvc.Record(ctx, &census.DailyCensus{
			Date:    "2024-02-01",
			Overall: surveillance.WardCensus{Patients: 1000},
		}); err != nil {
			return err
		}

		vap := &hai.Case{
			PatientName:    "Juan Dela Cruz",
			HospitalNumber: "H-1",
			Area:           "Medical ICU",
			HAIType:        surveillance.HAITypeVAP,
			OnsetDate:      "2024-01-02",
		}
		if err := haiSvc.Report(ctx, vap); err != nil {
			return fmt.Errorf("report vap: %w", err)
		}
		if _, err := haiSvc.Validate(ctx, vap.ID, ""); err != nil {
			return fmt.Errorf("validate vap: %w", err)
		}

		pending = &hai.Case{
			PatientName:    "Maria Clara",
			HospitalNumber: "H-2",
			Area:           "Medicine Ward 3",
			HAIType:        surveillance.HAITypeHAP,
			OnsetDate:      "2024-01-02",
		}
		return haiSvc.Report(ctx, pending)
	})

	withTenant(t, tenantID, func(ctx context.Context) error {
		snap, err := survSvc.Rates(ctx, period)
		if err != nil {
			return err
		}
		if snap.LogCount != 2 || snap.CaseCount != 1 {
			return fmt.Errorf("expected 2 logs and 1 case, got %d and %d", snap.LogCount, snap.CaseCount)
		}
		r := snap.Report
		if r.Overall.PatientDays != 100 || r.Overall.VentDays != 10 {
			return fmt.Errorf("unexpected overall denominators %+v", r.Overall)
		}
		if r.Overall.VAP != 100 || r.ICU.VAP != 100 {
			return fmt.Errorf("expected VAP 100 overall and in ICU, got %v and %v", r.Overall.VAP, r.ICU.VAP)
		}
		if r.Overall.HAP != 0 {
			return fmt.Errorf("pending HAP case should not count, got %v", r.Overall.HAP)
		}
		return nil
	})

	withTenant(t, tenantID, func(ctx context.Context) error {
		if _, err := haiSvc.Validate(ctx, pending.ID, "confirmed"); err != nil {
			return err
		}
		if err := survSvc.Invalidate(ctx, tenantID); err != nil {
			return err
		}
		snap, err := survSvc.Rates(ctx, period)
		if err != nil {
			return err
		}
		if snap.Report.Overall.HAP != 10 {
			return fmt.Errorf("expected HAP 10 after validation, got %v", snap.Report.Overall.HAP)
		}
		if snap.Report.Overall.Overall != 20 {
			return fmt.Errorf("expected overall rate 20, got %v", snap.Report.Overall.Overall)
		}
		// The medicine bucket has no census, so its rate stays 0.
		if snap.Report.Medicine.Counts.HAP != 1 || snap.Report.Medicine.HAP != 0 {
			return fmt.Errorf("unexpected medicine bucket %+v", snap.Report.Medicine)
		}
		return nil
	})
}

func TestCensus_TenantIsolation(t *testing.T) {
	a := createTenant(t, "iso_a")
	b := createTenant(t, "iso_b")
	svc := census.NewService(census.NewRepoPG(globalDB.Pool), events.Nop)

	withTenant(t, a, func(ctx context.Context) error {
		return svc.Record(ctx, &census.DailyCensus{
			Date:    "2024-03-01",
			Overall: surveillance.WardCensus{Patients: 42},
		})
	})

	withTenant(t, b, func(ctx context.Context) error {
		_, total, err := svc.List(ctx, surveillance.Period{}, 10, 0)
		if err != nil {
			return err
		}
		if total != 0 {
			return fmt.Errorf("tenant b sees %d census logs from tenant a", total)
		}
		return nil
	})

	withTenant(t, a, func(ctx context.Context) error {
		got, err := svc.Get(ctx, "2024-03-01")
		if err != nil {
			return err
		}
		if got.Overall.Patients != 42 {
			return fmt.Errorf("expected 42 patients, got %d", got.Overall.Patients)
		}
		return nil
	})
}

func TestCensus_UpsertReplacesDay(t *testing.T) {
	tenantID := createTenant(t, "upsert")
	svc := census.NewService(census.NewRepoPG(globalDB.Pool), events.Nop)

	withTenant(t, tenantID, func(ctx context.Context) error {
		for _, n := range []int{10, 25} {
			if err := svc.Record(ctx, &census.DailyCensus{
				Date:    "2024-03-02",
				Overall: surveillance.WardCensus{Patients: n},
			}); err != nil {
				return err
			}
		}
		logs, err := svc.ListCensusLogs(ctx, surveillance.Period{})
		if err != nil {
			return err
		}
		if len(logs) != 1 || logs[0].Overall.Patients != 25 {
			return fmt.Errorf("expected a single log with 25 patients, got %+v", logs)
		}
		return nil
	})
}
