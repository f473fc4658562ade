package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/events"
	"github.com/ipc/ipc/internal/platform/export"
)

var (
	ErrNotPending        = errors.New("report has already been reviewed")
	ErrAlreadyDischarged = errors.New("patient has already been discharged")
)

const dateLayout = "2006-01-02"

type Service struct {
	notifiable NotifiableRepository
	isolation  IsolationRepository
	sharps     SharpsRepository
	cultures   CultureRepository
	events     events.Publisher
	now        func() time.Time
}

func NewService(n NotifiableRepository, i IsolationRepository, s SharpsRepository, c CultureRepository, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{notifiable: n, isolation: i, sharps: s, cultures: c, events: pub, now: time.Now}
}

func (s *Service) publish(ctx context.Context, typ, resource string, id uuid.UUID, data interface{}) {
	s.events.Publish(ctx, events.New(ctx, events.TopicRegistry, typ, resource, id.String(), data))
}

// pastDate parses a required YYYY-MM-DD value that may not lie in the future.
func (s *Service) pastDate(field, v string) (time.Time, error) {
	d, err := time.Parse(dateLayout, v)
	if err != nil {
		return d, fmt.Errorf("%s must be YYYY-MM-DD", field)
	}
	if d.After(s.now()) {
		return d, fmt.Errorf("%s cannot be in the future", field)
	}
	return d, nil
}

func required(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return fmt.Errorf("%s is required", f[0])
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// =========== Notifiable Reports ===========

func (s *Service) validateNotifiable(r *NotifiableReport) error {
	if err := required(
		[2]string{"patient_name", r.PatientName},
		[2]string{"hospital_number", r.HospitalNumber},
		[2]string{"area", r.Area},
	); err != nil {
		return err
	}
	if !contains(Diseases, r.Disease) {
		return fmt.Errorf("disease must be one of: %s", strings.Join(Diseases, ", "))
	}
	if r.Disease == DiseaseTuberculosis {
		if r.TBSite == nil || (*r.TBSite != TBSitePulmonary && *r.TBSite != TBSiteExtrapulmonary) {
			return fmt.Errorf("tb_site must be pulmonary or extrapulmonary")
		}
	} else if r.TBSite != nil {
		return fmt.Errorf("tb_site only applies to %s", DiseaseTuberculosis)
	}
	if r.DateReported == "" {
		r.DateReported = s.now().Format(dateLayout)
	}
	reported, err := s.pastDate("date_reported", r.DateReported)
	if err != nil {
		return err
	}
	if r.OnsetDate != nil {
		onset, err := s.pastDate("onset_date", *r.OnsetDate)
		if err != nil {
			return err
		}
		if onset.After(reported) {
			return fmt.Errorf("onset_date cannot be after date_reported")
		}
	}
	if r.Age != nil && (*r.Age < 0 || *r.Age > 130) {
		return fmt.Errorf("age must be between 0 and 130")
	}
	return nil
}

func (s *Service) ReportNotifiable(ctx context.Context, r *NotifiableReport) error {
	if err := s.validateNotifiable(r); err != nil {
		return err
	}
	r.Status = StatusPending
	r.ReportedBy = auth.UserIDFromContext(ctx)
	r.ReviewedBy, r.ReviewedAt, r.ReviewNote = nil, nil, nil
	if err := s.notifiable.Create(ctx, r); err != nil {
		return fmt.Errorf("create notifiable report: %w", err)
	}
	s.publish(ctx, "notifiable.created", "notifiable_report", r.ID, r)
	return nil
}

func (s *Service) GetNotifiable(ctx context.Context, id uuid.UUID) (*NotifiableReport, error) {
	return s.notifiable.GetByID(ctx, id)
}

func (s *Service) UpdateNotifiable(ctx context.Context, r *NotifiableReport) error {
	if err := s.validateNotifiable(r); err != nil {
		return err
	}
	existing, err := s.notifiable.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}
	if existing.Status != StatusPending {
		return ErrNotPending
	}
	if err := s.notifiable.Update(ctx, r); err != nil {
		return err
	}
	r.Status = existing.Status
	r.ReportedBy = existing.ReportedBy
	r.CreatedAt = existing.CreatedAt
	s.publish(ctx, "notifiable.updated", "notifiable_report", r.ID, r)
	return nil
}

func (s *Service) DeleteNotifiable(ctx context.Context, id uuid.UUID) error {
	if err := s.notifiable.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, "notifiable.deleted", "notifiable_report", id, nil)
	return nil
}

func (s *Service) SearchNotifiable(ctx context.Context, params map[string]string, limit, offset int) ([]*NotifiableReport, int, error) {
	if st, ok := params["status"]; ok && st != StatusPending && st != StatusValidated && st != StatusRejected {
		return nil, 0, fmt.Errorf("unknown status %q", st)
	}
	return s.notifiable.Search(ctx, params, limit, offset)
}

// ReviewNotifiable validates or rejects a pending report. Rejections need a note.
func (s *Service) ReviewNotifiable(ctx context.Context, id uuid.UUID, status, note string) (*NotifiableReport, error) {
	var n *string
	switch status {
	case StatusValidated:
		if strings.TrimSpace(note) != "" {
			n = &note
		}
	case StatusRejected:
		if strings.TrimSpace(note) == "" {
			return nil, fmt.Errorf("a note is required to reject a report")
		}
		n = &note
	default:
		return nil, fmt.Errorf("unknown review status %q", status)
	}
	if err := s.notifiable.SetReview(ctx, id, status, auth.UserIDFromContext(ctx), n); err != nil {
		return nil, err
	}
	r, err := s.notifiable.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "notifiable."+status, "notifiable_report", id, r)
	return r, nil
}

// =========== Isolation Admissions ===========

func (s *Service) validateIsolation(a *IsolationAdmission) error {
	if err := required(
		[2]string{"patient_name", a.PatientName},
		[2]string{"hospital_number", a.HospitalNumber},
		[2]string{"area", a.Area},
		[2]string{"reason", a.Reason},
	); err != nil {
		return err
	}
	if !contains(Precautions, a.Precaution) {
		return fmt.Errorf("precaution must be one of: %s", strings.Join(Precautions, ", "))
	}
	_, err := s.pastDate("admitted_at", a.AdmittedAt)
	return err
}

func (s *Service) AdmitIsolation(ctx context.Context, a *IsolationAdmission) error {
	if err := s.validateIsolation(a); err != nil {
		return err
	}
	a.DischargedAt = nil
	a.RecordedBy = auth.UserIDFromContext(ctx)
	if err := s.isolation.Create(ctx, a); err != nil {
		return fmt.Errorf("create isolation admission: %w", err)
	}
	s.publish(ctx, "isolation.admitted", "isolation_admission", a.ID, a)
	return nil
}

func (s *Service) GetIsolation(ctx context.Context, id uuid.UUID) (*IsolationAdmission, error) {
	return s.isolation.GetByID(ctx, id)
}

func (s *Service) UpdateIsolation(ctx context.Context, a *IsolationAdmission) error {
	if err := s.validateIsolation(a); err != nil {
		return err
	}
	existing, err := s.isolation.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing.DischargedAt != nil && *existing.DischargedAt < a.AdmittedAt {
		return fmt.Errorf("admitted_at cannot be after discharged_at")
	}
	if err := s.isolation.Update(ctx, a); err != nil {
		return err
	}
	a.DischargedAt = existing.DischargedAt
	a.RecordedBy = existing.RecordedBy
	a.CreatedAt = existing.CreatedAt
	s.publish(ctx, "isolation.updated", "isolation_admission", a.ID, a)
	return nil
}

func (s *Service) DeleteIsolation(ctx context.Context, id uuid.UUID) error {
	if err := s.isolation.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, "isolation.deleted", "isolation_admission", id, nil)
	return nil
}

func (s *Service) SearchIsolation(ctx context.Context, params map[string]string, limit, offset int) ([]*IsolationAdmission, int, error) {
	if p, ok := params["precaution"]; ok && !contains(Precautions, p) {
		return nil, 0, fmt.Errorf("unknown precaution %q", p)
	}
	return s.isolation.Search(ctx, params, limit, offset)
}

// Discharge closes an admission. An empty date means today.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID, date string) (*IsolationAdmission, error) {
	if date == "" {
		date = s.now().Format(dateLayout)
	}
	if _, err := s.pastDate("discharged_at", date); err != nil {
		return nil, err
	}
	existing, err := s.isolation.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.DischargedAt != nil {
		return nil, ErrAlreadyDischarged
	}
	if date < existing.AdmittedAt {
		return nil, fmt.Errorf("discharged_at cannot be before admitted_at")
	}
	if err := s.isolation.Discharge(ctx, id, date); err != nil {
		return nil, err
	}
	existing.DischargedAt = &date
	s.publish(ctx, "isolation.discharged", "isolation_admission", id, existing)
	return existing, nil
}

// =========== Sharps Injuries ===========

func (s *Service) validateSharps(si *SharpsInjury) error {
	if err := required(
		[2]string{"staff_name", si.StaffName},
		[2]string{"staff_role", si.StaffRole},
		[2]string{"area", si.Area},
	); err != nil {
		return err
	}
	_, err := s.pastDate("injury_date", si.InjuryDate)
	return err
}

func (s *Service) ReportSharps(ctx context.Context, si *SharpsInjury) error {
	if err := s.validateSharps(si); err != nil {
		return err
	}
	si.ReportedBy = auth.UserIDFromContext(ctx)
	if err := s.sharps.Create(ctx, si); err != nil {
		return fmt.Errorf("create sharps injury: %w", err)
	}
	s.publish(ctx, "sharps.created", "sharps_injury", si.ID, si)
	return nil
}

func (s *Service) GetSharps(ctx context.Context, id uuid.UUID) (*SharpsInjury, error) {
	return s.sharps.GetByID(ctx, id)
}

func (s *Service) UpdateSharps(ctx context.Context, si *SharpsInjury) error {
	if err := s.validateSharps(si); err != nil {
		return err
	}
	existing, err := s.sharps.GetByID(ctx, si.ID)
	if err != nil {
		return err
	}
	if err := s.sharps.Update(ctx, si); err != nil {
		return err
	}
	si.ReportedBy = existing.ReportedBy
	si.CreatedAt = existing.CreatedAt
	s.publish(ctx, "sharps.updated", "sharps_injury", si.ID, si)
	return nil
}

func (s *Service) DeleteSharps(ctx context.Context, id uuid.UUID) error {
	if err := s.sharps.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, "sharps.deleted", "sharps_injury", id, nil)
	return nil
}

func (s *Service) SearchSharps(ctx context.Context, params map[string]string, limit, offset int) ([]*SharpsInjury, int, error) {
	return s.sharps.Search(ctx, params, limit, offset)
}

// =========== Culture Results ===========

func (s *Service) validateCulture(c *CultureResult) error {
	if err := required(
		[2]string{"patient_name", c.PatientName},
		[2]string{"hospital_number", c.HospitalNumber},
		[2]string{"area", c.Area},
		[2]string{"specimen", c.Specimen},
		[2]string{"organism", c.Organism},
	); err != nil {
		return err
	}
	if _, err := s.pastDate("collected_at", c.CollectedAt); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Susceptibilities))
	for i, sus := range c.Susceptibilities {
		name := strings.TrimSpace(sus.Antibiotic)
		if name == "" {
			return fmt.Errorf("susceptibilities[%d].antibiotic is required", i)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("antibiotic %q is listed more than once", name)
		}
		seen[key] = true
		switch strings.ToUpper(sus.Result) {
		case ResultSusceptible, ResultIntermediate, ResultResistant:
		default:
			return fmt.Errorf("susceptibilities[%d].result must be S, I or R", i)
		}
		c.Susceptibilities[i] = Susceptibility{Antibiotic: name, Result: strings.ToUpper(sus.Result)}
	}
	if c.Susceptibilities == nil {
		c.Susceptibilities = []Susceptibility{}
	}
	return nil
}

func (s *Service) RecordCulture(ctx context.Context, c *CultureResult) error {
	if err := s.validateCulture(c); err != nil {
		return err
	}
	c.RecordedBy = auth.UserIDFromContext(ctx)
	if err := s.cultures.Create(ctx, c); err != nil {
		return fmt.Errorf("create culture result: %w", err)
	}
	s.publish(ctx, "culture.created", "culture_result", c.ID, c)
	return nil
}

func (s *Service) GetCulture(ctx context.Context, id uuid.UUID) (*CultureResult, error) {
	return s.cultures.GetByID(ctx, id)
}

func (s *Service) UpdateCulture(ctx context.Context, c *CultureResult) error {
	if err := s.validateCulture(c); err != nil {
		return err
	}
	existing, err := s.cultures.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := s.cultures.Update(ctx, c); err != nil {
		return err
	}
	c.RecordedBy = existing.RecordedBy
	c.CreatedAt = existing.CreatedAt
	s.publish(ctx, "culture.updated", "culture_result", c.ID, c)
	return nil
}

func (s *Service) DeleteCulture(ctx context.Context, id uuid.UUID) error {
	if err := s.cultures.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, "culture.deleted", "culture_result", id, nil)
	return nil
}

func (s *Service) SearchCultures(ctx context.Context, params map[string]string, limit, offset int) ([]*CultureResult, int, error) {
	return s.cultures.Search(ctx, params, limit, offset)
}

// BuildAntibiogram tallies susceptibility per organism and antibiotic.
// Entries are ordered by organism, then antibiotic.
func BuildAntibiogram(results []*CultureResult) []AntibiogramEntry {
	type pair struct{ organism, antibiotic string }
	tally := map[pair]*AntibiogramEntry{}
	for _, r := range results {
		org := strings.TrimSpace(r.Organism)
		for _, sus := range r.Susceptibilities {
			k := pair{strings.ToLower(org), strings.ToLower(sus.Antibiotic)}
			e, ok := tally[k]
			if !ok {
				e = &AntibiogramEntry{Organism: org, Antibiotic: sus.Antibiotic}
				tally[k] = e
			}
			e.Tested++
			if strings.ToUpper(sus.Result) == ResultSusceptible {
				e.Susceptible++
			}
		}
	}
	out := make([]AntibiogramEntry, 0, len(tally))
	for _, e := range tally {
		e.PercentSusceptible = math.Floor(float64(e.Susceptible)/float64(e.Tested)*1000+0.5) / 10
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := strings.ToLower(out[i].Organism), strings.ToLower(out[j].Organism)
		if oi != oj {
			return oi < oj
		}
		return strings.ToLower(out[i].Antibiotic) < strings.ToLower(out[j].Antibiotic)
	})
	return out
}

func (s *Service) Antibiogram(ctx context.Context, p surveillance.Period) ([]AntibiogramEntry, error) {
	results, err := s.cultures.ListInPeriod(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("list culture results: %w", err)
	}
	return BuildAntibiogram(results), nil
}

// AntibiogramTable renders entries for export.
func AntibiogramTable(entries []AntibiogramEntry) export.Table {
	t := export.Table{
		Sheet:   "Antibiogram",
		Headers: []string{"Organism", "Antibiotic", "Tested", "Susceptible", "% Susceptible"},
	}
	for _, e := range entries {
		t.Rows = append(t.Rows, []any{e.Organism, e.Antibiotic, e.Tested, e.Susceptible, e.PercentSusceptible})
	}
	return t
}
