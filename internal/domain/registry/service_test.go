package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/internal/platform/events"
)

// -- Mock Repositories --

type mockNotifiableRepo struct {
	store map[uuid.UUID]*NotifiableReport
}

func newMockNotifiableRepo() *mockNotifiableRepo {
	return &mockNotifiableRepo{store: make(map[uuid.UUID]*NotifiableReport)}
}

func (m *mockNotifiableRepo) Create(_ context.Context, r *NotifiableReport) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockNotifiableRepo) GetByID(_ context.Context, id uuid.UUID) (*NotifiableReport, error) {
	r, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockNotifiableRepo) Update(_ context.Context, r *NotifiableReport) error {
	existing, ok := m.store[r.ID]
	if !ok {
		return db.ErrNotFound
	}
	cp := *r
	cp.Status = existing.Status
	m.store[r.ID] = &cp
	return nil
}

func (m *mockNotifiableRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockNotifiableRepo) Search(_ context.Context, params map[string]string, _, _ int) ([]*NotifiableReport, int, error) {
	var out []*NotifiableReport
	for _, r := range m.store {
		if d, ok := params["disease"]; ok && r.Disease != d {
			continue
		}
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *mockNotifiableRepo) SetReview(_ context.Context, id uuid.UUID, status, reviewer string, note *string) error {
	r, ok := m.store[id]
	if !ok {
		return db.ErrNotFound
	}
	if r.Status != StatusPending {
		return ErrNotPending
	}
	now := time.Now()
	r.Status = status
	r.ReviewedBy = &reviewer
	r.ReviewedAt = &now
	r.ReviewNote = note
	return nil
}

type mockIsolationRepo struct {
	store map[uuid.UUID]*IsolationAdmission
}

func newMockIsolationRepo() *mockIsolationRepo {
	return &mockIsolationRepo{store: make(map[uuid.UUID]*IsolationAdmission)}
}

func (m *mockIsolationRepo) Create(_ context.Context, a *IsolationAdmission) error {
	a.ID = uuid.New()
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockIsolationRepo) GetByID(_ context.Context, id uuid.UUID) (*IsolationAdmission, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockIsolationRepo) Update(_ context.Context, a *IsolationAdmission) error {
	existing, ok := m.store[a.ID]
	if !ok {
		return db.ErrNotFound
	}
	cp := *a
	cp.DischargedAt = existing.DischargedAt
	m.store[a.ID] = &cp
	return nil
}

func (m *mockIsolationRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockIsolationRepo) Search(_ context.Context, params map[string]string, _, _ int) ([]*IsolationAdmission, int, error) {
	var out []*IsolationAdmission
	for _, a := range m.store {
		if params["active"] == "true" && a.DischargedAt != nil {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *mockIsolationRepo) Discharge(_ context.Context, id uuid.UUID, date string) error {
	a, ok := m.store[id]
	if !ok {
		return db.ErrNotFound
	}
	if a.DischargedAt != nil {
		return ErrAlreadyDischarged
	}
	a.DischargedAt = &date
	return nil
}

type mockSharpsRepo struct {
	store map[uuid.UUID]*SharpsInjury
}

func newMockSharpsRepo() *mockSharpsRepo {
	return &mockSharpsRepo{store: make(map[uuid.UUID]*SharpsInjury)}
}

func (m *mockSharpsRepo) Create(_ context.Context, s *SharpsInjury) error {
	s.ID = uuid.New()
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *mockSharpsRepo) GetByID(_ context.Context, id uuid.UUID) (*SharpsInjury, error) {
	s, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSharpsRepo) Update(_ context.Context, s *SharpsInjury) error {
	if _, ok := m.store[s.ID]; !ok {
		return db.ErrNotFound
	}
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *mockSharpsRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockSharpsRepo) Search(_ context.Context, _ map[string]string, _, _ int) ([]*SharpsInjury, int, error) {
	var out []*SharpsInjury
	for _, s := range m.store {
		out = append(out, s)
	}
	return out, len(out), nil
}

type mockCultureRepo struct {
	store map[uuid.UUID]*CultureResult
}

func newMockCultureRepo() *mockCultureRepo {
	return &mockCultureRepo{store: make(map[uuid.UUID]*CultureResult)}
}

func (m *mockCultureRepo) Create(_ context.Context, c *CultureResult) error {
	c.ID = uuid.New()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockCultureRepo) GetByID(_ context.Context, id uuid.UUID) (*CultureResult, error) {
	c, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCultureRepo) Update(_ context.Context, c *CultureResult) error {
	if _, ok := m.store[c.ID]; !ok {
		return db.ErrNotFound
	}
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockCultureRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockCultureRepo) Search(_ context.Context, _ map[string]string, _, _ int) ([]*CultureResult, int, error) {
	var out []*CultureResult
	for _, c := range m.store {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *mockCultureRepo) ListInPeriod(_ context.Context, p surveillance.Period) ([]*CultureResult, error) {
	var out []*CultureResult
	for _, c := range m.store {
		d, _ := time.Parse(dateLayout, c.CollectedAt)
		if p.Contains(d) {
			out = append(out, c)
		}
	}
	return out, nil
}

type eventLog struct{ types []string }

func (l *eventLog) Publish(_ context.Context, e events.Event) error {
	l.types = append(l.types, e.Type)
	return nil
}

type testRepos struct {
	notifiable *mockNotifiableRepo
	isolation  *mockIsolationRepo
	sharps     *mockSharpsRepo
	cultures   *mockCultureRepo
	events     *eventLog
}

func newTestService() (*Service, *testRepos) {
	r := &testRepos{
		notifiable: newMockNotifiableRepo(),
		isolation:  newMockIsolationRepo(),
		sharps:     newMockSharpsRepo(),
		cultures:   newMockCultureRepo(),
		events:     &eventLog{},
	}
	svc := NewService(r.notifiable, r.isolation, r.sharps, r.cultures, r.events)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, r
}

func officerCtx() context.Context {
	return auth.WithUser(context.Background(), "officer-1", "Officer", []string{auth.RoleIPCOfficer})
}

func strPtr(s string) *string { return &s }

func validReport() *NotifiableReport {
	return &NotifiableReport{
		PatientName:    "Maria Santos",
		HospitalNumber: "H-2001",
		Disease:        "Dengue",
		Area:           "Medicine Ward",
		OnsetDate:      strPtr("2024-02-20"),
	}
}

// -- Notifiable Reports --

func TestService_ReportNotifiable(t *testing.T) {
	svc, repos := newTestService()
	r := validReport()
	if err := svc.ReportNotifiable(officerCtx(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("expected pending, got %s", r.Status)
	}
	if r.DateReported != "2024-03-01" {
		t.Errorf("expected date_reported to default to today, got %s", r.DateReported)
	}
	if r.ReportedBy != "officer-1" {
		t.Errorf("expected reported_by officer-1, got %q", r.ReportedBy)
	}
	if len(repos.events.types) != 1 || repos.events.types[0] != "notifiable.created" {
		t.Errorf("unexpected events %v", repos.events.types)
	}
}

func TestService_ReportNotifiable_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := map[string]func(r *NotifiableReport){
		"missing patient":    func(r *NotifiableReport) { r.PatientName = "" },
		"unknown disease":    func(r *NotifiableReport) { r.Disease = "Flu" },
		"tb without site":    func(r *NotifiableReport) { r.Disease = DiseaseTuberculosis },
		"tb with bad site":   func(r *NotifiableReport) { r.Disease, r.TBSite = DiseaseTuberculosis, strPtr("lung") },
		"site without tb":    func(r *NotifiableReport) { r.TBSite = strPtr(TBSitePulmonary) },
		"future report":      func(r *NotifiableReport) { r.DateReported = "2024-03-05" },
		"onset after report": func(r *NotifiableReport) { r.DateReported = "2024-02-10" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := validReport()
			mutate(r)
			if err := svc.ReportNotifiable(officerCtx(), r); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_ReportNotifiable_Tuberculosis(t *testing.T) {
	svc, _ := newTestService()
	r := validReport()
	r.Disease = DiseaseTuberculosis
	r.TBSite = strPtr(TBSiteExtrapulmonary)
	if err := svc.ReportNotifiable(officerCtx(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_ReviewNotifiable(t *testing.T) {
	svc, _ := newTestService()
	r := validReport()
	if err := svc.ReportNotifiable(officerCtx(), r); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ReviewNotifiable(officerCtx(), r.ID, StatusRejected, " "); err == nil {
		t.Error("expected rejection without a note to fail")
	}
	got, err := svc.ReviewNotifiable(officerCtx(), r.ID, StatusValidated, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusValidated || got.ReviewedBy == nil || *got.ReviewedBy != "officer-1" {
		t.Errorf("unexpected review state: %+v", got)
	}
	if _, err := svc.ReviewNotifiable(officerCtx(), r.ID, StatusRejected, "dup"); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
	r.PatientName = "Changed"
	if err := svc.UpdateNotifiable(officerCtx(), r); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending on update, got %v", err)
	}
}

func TestService_ReviewNotifiable_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.ReviewNotifiable(officerCtx(), uuid.New(), StatusValidated, ""); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -- Isolation Admissions --

func validAdmission() *IsolationAdmission {
	return &IsolationAdmission{
		PatientName:    "Pedro Reyes",
		HospitalNumber: "H-3001",
		Area:           "Cohort Ward",
		Precaution:     PrecautionAirborne,
		Reason:         "Suspected pulmonary TB",
		AdmittedAt:     "2024-02-25",
	}
}

func TestService_AdmitIsolation_Validation(t *testing.T) {
	svc, _ := newTestService()
	a := validAdmission()
	a.Precaution = "strict"
	if err := svc.AdmitIsolation(officerCtx(), a); err == nil {
		t.Error("expected error for unknown precaution")
	}
	a = validAdmission()
	a.Reason = ""
	if err := svc.AdmitIsolation(officerCtx(), a); err == nil {
		t.Error("expected error for missing reason")
	}
}

func TestService_Discharge(t *testing.T) {
	svc, repos := newTestService()
	a := validAdmission()
	a.DischargedAt = strPtr("2024-02-26") // ignored on admit
	if err := svc.AdmitIsolation(officerCtx(), a); err != nil {
		t.Fatal(err)
	}
	if a.DischargedAt != nil {
		t.Fatal("expected admission to start active")
	}

	if _, err := svc.Discharge(officerCtx(), a.ID, "2024-02-20"); err == nil {
		t.Error("expected error for discharge before admission")
	}
	got, err := svc.Discharge(officerCtx(), a.ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DischargedAt == nil || *got.DischargedAt != "2024-03-01" {
		t.Errorf("expected discharge today, got %v", got.DischargedAt)
	}
	if _, err := svc.Discharge(officerCtx(), a.ID, ""); !errors.Is(err, ErrAlreadyDischarged) {
		t.Errorf("expected ErrAlreadyDischarged, got %v", err)
	}

	active, total, err := svc.SearchIsolation(officerCtx(), map[string]string{"active": "true"}, 25, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(active) != 0 {
		t.Errorf("expected no active admissions, got %d", total)
	}
	last := repos.events.types[len(repos.events.types)-1]
	if last != "isolation.discharged" {
		t.Errorf("expected isolation.discharged, got %s", last)
	}
}

// -- Sharps Injuries --

func TestService_Sharps(t *testing.T) {
	svc, _ := newTestService()
	s := &SharpsInjury{StaffName: "Nurse Ana", StaffRole: "nurse", Area: "ER", InjuryDate: "2024-02-28", PEPGiven: true}
	if err := svc.ReportSharps(officerCtx(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Device = strPtr("hollow-bore needle")
	if err := svc.UpdateSharps(officerCtx(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.GetSharps(officerCtx(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Device == nil || *got.Device != "hollow-bore needle" {
		t.Errorf("expected device to be updated")
	}
	if err := svc.DeleteSharps(officerCtx(), s.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteSharps(officerCtx(), s.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	bad := &SharpsInjury{StaffName: "X", StaffRole: "nurse", Area: "ER", InjuryDate: "28/02/2024"}
	if err := svc.ReportSharps(officerCtx(), bad); err == nil {
		t.Error("expected error for malformed injury_date")
	}
}

// -- Culture Results --

func culture(organism, date string, sus ...Susceptibility) *CultureResult {
	return &CultureResult{
		PatientName:      "P",
		HospitalNumber:   "H",
		Area:             "ICU",
		Specimen:         "blood",
		Organism:         organism,
		CollectedAt:      date,
		Susceptibilities: sus,
	}
}

func TestService_RecordCulture_Validation(t *testing.T) {
	svc, _ := newTestService()

	c := culture("E. coli", "2024-02-01", Susceptibility{"Meropenem", "x"})
	if err := svc.RecordCulture(officerCtx(), c); err == nil {
		t.Error("expected error for invalid result")
	}
	c = culture("E. coli", "2024-02-01", Susceptibility{"Meropenem", "S"}, Susceptibility{"meropenem", "R"})
	if err := svc.RecordCulture(officerCtx(), c); err == nil {
		t.Error("expected error for duplicate antibiotic")
	}
	c = culture("E. coli", "2024-02-01", Susceptibility{" Meropenem ", "s"})
	if err := svc.RecordCulture(officerCtx(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Susceptibilities[0] != (Susceptibility{"Meropenem", "S"}) {
		t.Errorf("expected normalized susceptibility, got %+v", c.Susceptibilities[0])
	}
}

func TestBuildAntibiogram(t *testing.T) {
	results := []*CultureResult{
		culture("Klebsiella pneumoniae", "2024-01-02", Susceptibility{"Meropenem", "S"}, Susceptibility{"Ceftriaxone", "R"}),
		culture("Klebsiella pneumoniae", "2024-01-03", Susceptibility{"Meropenem", "S"}),
		culture("klebsiella pneumoniae", "2024-01-04", Susceptibility{"meropenem", "R"}),
		culture("E. coli", "2024-01-05", Susceptibility{"Meropenem", "I"}),
	}
	got := BuildAntibiogram(results)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(got), got)
	}
	if got[0].Organism != "E. coli" || got[0].Tested != 1 || got[0].PercentSusceptible != 0 {
		t.Errorf("intermediate should count as not susceptible: %+v", got[0])
	}
	if got[1].Antibiotic != "Ceftriaxone" || got[1].PercentSusceptible != 0 {
		t.Errorf("unexpected entry %+v", got[1])
	}
	mero := got[2]
	if mero.Tested != 3 || mero.Susceptible != 2 || mero.PercentSusceptible != 66.7 {
		t.Errorf("expected 2/3 = 66.7%%, got %+v", mero)
	}
}

func TestBuildAntibiogram_Empty(t *testing.T) {
	if got := BuildAntibiogram(nil); len(got) != 0 {
		t.Errorf("expected no entries, got %d", len(got))
	}
}

func TestService_Antibiogram_Period(t *testing.T) {
	svc, _ := newTestService()
	for _, c := range []*CultureResult{
		culture("E. coli", "2024-01-15", Susceptibility{"Amikacin", "S"}),
		culture("E. coli", "2024-02-15", Susceptibility{"Amikacin", "R"}),
	} {
		if err := svc.RecordCulture(officerCtx(), c); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := surveillance.ParsePeriod("2024-02-01", "2024-02-29")
	got, err := svc.Antibiogram(officerCtx(), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Tested != 1 || got[0].Susceptible != 0 {
		t.Errorf("expected only the February culture, got %+v", got)
	}

	table := AntibiogramTable(got)
	if len(table.Rows) != 1 || table.Rows[0][0] != "E. coli" {
		t.Errorf("unexpected table rows %v", table.Rows)
	}
}
