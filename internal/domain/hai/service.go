package hai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/events"
	"github.com/ipc/ipc/internal/platform/export"
)

// ErrNotPending is returned when a reviewed case is edited or reviewed again.
var ErrNotPending = errors.New("case has already been reviewed")

const (
	EventCreated   = "hai.created"
	EventUpdated   = "hai.updated"
	EventDeleted   = "hai.deleted"
	EventValidated = "hai.validated"
	EventRejected  = "hai.rejected"
)

var validSex = map[string]bool{"male": true, "female": true, "other": true, "unknown": true}

type Service struct {
	cases  CaseRepository
	events events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(cases CaseRepository, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{cases: cases, events: pub, logger: zerolog.Nop(), now: time.Now}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("component", "hai").Logger()
}

func (s *Service) validate(c *Case) error {
	if strings.TrimSpace(c.PatientName) == "" {
		return fmt.Errorf("patient_name is required")
	}
	if strings.TrimSpace(c.HospitalNumber) == "" {
		return fmt.Errorf("hospital_number is required")
	}
	if strings.TrimSpace(c.Area) == "" {
		return fmt.Errorf("area is required")
	}
	if !surveillance.IsHAIType(c.HAIType) {
		return fmt.Errorf("hai_type must be one of: %s", strings.Join(surveillance.HAITypes, ", "))
	}
	onset, err := time.Parse("2006-01-02", c.OnsetDate)
	if err != nil {
		return fmt.Errorf("onset_date must be YYYY-MM-DD")
	}
	if onset.After(s.now()) {
		return fmt.Errorf("onset_date cannot be in the future")
	}
	if c.DeviceInsertedAt != nil {
		in, err := time.Parse("2006-01-02", *c.DeviceInsertedAt)
		if err != nil {
			return fmt.Errorf("device_inserted_at must be YYYY-MM-DD")
		}
		if in.After(onset) {
			return fmt.Errorf("device_inserted_at cannot be after onset_date")
		}
	}
	if c.Age != nil && (*c.Age < 0 || *c.Age > 130) {
		return fmt.Errorf("age must be between 0 and 130")
	}
	if c.Sex != nil && !validSex[*c.Sex] {
		return fmt.Errorf("sex must be one of male, female, other, unknown")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ string, c *Case) {
	s.events.Publish(ctx, events.New(ctx, events.TopicHAI, typ, "hai_case", c.ID.String(), c))
}

// Report registers a new case for review.
func (s *Service) Report(ctx context.Context, c *Case) error {
	if err := s.validate(c); err != nil {
		return err
	}
	c.Status = StatusPending
	c.ReportedBy = auth.UserIDFromContext(ctx)
	c.ReviewedBy, c.ReviewedAt, c.ReviewNote = nil, nil, nil
	if err := s.cases.Create(ctx, c); err != nil {
		return fmt.Errorf("create hai case: %w", err)
	}
	s.publish(ctx, EventCreated, c)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.cases.GetByID(ctx, id)
}

// Update edits a case that is still pending review.
func (s *Service) Update(ctx context.Context, c *Case) error {
	if err := s.validate(c); err != nil {
		return err
	}
	existing, err := s.cases.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing.Status != StatusPending {
		return ErrNotPending
	}
	if err := s.cases.Update(ctx, c); err != nil {
		return err
	}
	c.Status = existing.Status
	c.ReportedBy = existing.ReportedBy
	c.CreatedAt = existing.CreatedAt
	s.publish(ctx, EventUpdated, c)
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.cases.Delete(ctx, id); err != nil {
		return err
	}
	s.events.Publish(ctx, events.New(ctx, events.TopicHAI, EventDeleted, "hai_case", id.String(), nil))
	return nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Case, int, error) {
	if st, ok := params["status"]; ok && st != StatusPending && st != StatusValidated && st != StatusRejected {
		return nil, 0, fmt.Errorf("unknown status %q", st)
	}
	return s.cases.Search(ctx, params, limit, offset)
}

func (s *Service) review(ctx context.Context, id uuid.UUID, status string, note *string) (*Case, error) {
	rv := Review{
		Status:   status,
		Reviewer: auth.UserIDFromContext(ctx),
		Note:     note,
		At:       s.now().UTC(),
	}
	if err := s.cases.SetReview(ctx, id, rv); err != nil {
		return nil, err
	}
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	typ := EventValidated
	if status == StatusRejected {
		typ = EventRejected
	}
	s.publish(ctx, typ, c)
	return c, nil
}

// Validate confirms a pending case so it counts toward infection rates.
func (s *Service) Validate(ctx context.Context, id uuid.UUID, note string) (*Case, error) {
	var n *string
	if strings.TrimSpace(note) != "" {
		n = &note
	}
	return s.review(ctx, id, StatusValidated, n)
}

// Reject closes a pending case without counting it. A reason is required.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, note string) (*Case, error) {
	if strings.TrimSpace(note) == "" {
		return nil, fmt.Errorf("a note is required to reject a case")
	}
	return s.review(ctx, id, StatusRejected, &note)
}

// ListValidatedInfections feeds the rate calculator.
func (s *Service) ListValidatedInfections(ctx context.Context, p surveillance.Period) ([]surveillance.InfectionRecord, error) {
	cases, err := s.cases.ListValidated(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]surveillance.InfectionRecord, 0, len(cases))
	for _, c := range cases {
		if c.Status != StatusValidated {
			continue
		}
		onset, err := time.Parse("2006-01-02", c.OnsetDate)
		if err != nil {
			// Still counted; the trend files it under the month it was reported.
			s.logger.Warn().Err(err).Str("case_id", c.ID.String()).Str("onset_date", c.OnsetDate).
				Msg("validated case has unparseable onset date, using report date")
			onset = c.CreatedAt.UTC().Truncate(24 * time.Hour)
		}
		out = append(out, surveillance.InfectionRecord{HAIType: c.HAIType, Area: c.Area, Date: onset})
	}
	return out, nil
}

var lineListHeaders = []string{
	"Onset Date", "Patient", "Hospital No.", "Age", "Sex", "Area", "Ward Bucket",
	"HAI Type", "Category", "Organism", "Device Days", "Reported By", "Reviewed By",
}

// LineList builds the validated case line list for a period.
func (s *Service) LineList(ctx context.Context, p surveillance.Period) (export.Table, error) {
	cases, err := s.cases.ListValidated(ctx, p)
	if err != nil {
		return export.Table{}, err
	}
	t := export.Table{Sheet: "HAI Line List", Headers: lineListHeaders}
	for _, c := range cases {
		bucket := "-"
		if w, ok := surveillance.ClassifyArea(c.Area); ok {
			bucket = w.String()
		}
		category := "-"
		if cat, ok := surveillance.CategoryFor(c.HAIType); ok {
			category = strings.ToUpper(cat.String())
		}
		var deviceDays any = ""
		if d := c.DeviceDays(); d >= 0 {
			deviceDays = d
		}
		t.Rows = append(t.Rows, []any{
			c.OnsetDate, c.PatientName, c.HospitalNumber, deref(c.Age), deref(c.Sex), c.Area, bucket,
			c.HAIType, category, deref(c.Organism), deviceDays, c.ReportedBy, deref(c.ReviewedBy),
		})
	}
	return t, nil
}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
