package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/events"
	"github.com/ipc/ipc/internal/platform/export"
)

const (
	EventRecorded = "audit.recorded"
	EventUpdated  = "audit.updated"
	EventDeleted  = "audit.deleted"
)

type Service struct {
	repo   Repository
	events events.Publisher
	now    func() time.Time
}

func NewService(repo Repository, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{repo: repo, events: pub, now: time.Now}
}

func oneOf(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (s *Service) validate(a *Audit) error {
	if !oneOf(Kinds, a.Kind) {
		return fmt.Errorf("kind must be one of: %s", strings.Join(Kinds, ", "))
	}
	if strings.TrimSpace(a.Area) == "" {
		return fmt.Errorf("area is required")
	}
	if strings.TrimSpace(a.Auditor) == "" {
		return fmt.Errorf("auditor is required")
	}
	d, err := time.Parse("2006-01-02", a.AuditDate)
	if err != nil {
		return fmt.Errorf("audit_date must be YYYY-MM-DD")
	}
	if d.After(s.now()) {
		return fmt.Errorf("audit_date cannot be in the future")
	}
	if a.Kind == KindCareBundle {
		if a.Bundle == nil || !oneOf(Bundles, *a.Bundle) {
			return fmt.Errorf("bundle must be one of: %s", strings.Join(Bundles, ", "))
		}
	} else if a.Bundle != nil {
		return fmt.Errorf("bundle only applies to %s audits", KindCareBundle)
	}
	for i, it := range a.Items {
		if strings.TrimSpace(it.Label) == "" {
			return fmt.Errorf("items[%d].label is required", i)
		}
	}
	if a.Items == nil {
		a.Items = []Item{}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ string, id uuid.UUID, data interface{}) {
	s.events.Publish(ctx, events.New(ctx, events.TopicAudit, typ, "audit", id.String(), data))
}

// Record stores an audit with its score computed from the items.
func (s *Service) Record(ctx context.Context, a *Audit) error {
	if err := s.validate(a); err != nil {
		return err
	}
	a.Score = Score(a.Items)
	a.RecordedBy = auth.UserIDFromContext(ctx)
	if err := s.repo.Create(ctx, a); err != nil {
		return fmt.Errorf("create audit: %w", err)
	}
	s.publish(ctx, EventRecorded, a.ID, a)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Audit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, a *Audit) error {
	if err := s.validate(a); err != nil {
		return err
	}
	existing, err := s.repo.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	a.Score = Score(a.Items)
	if err := s.repo.Update(ctx, a); err != nil {
		return err
	}
	a.RecordedBy = existing.RecordedBy
	a.CreatedAt = existing.CreatedAt
	s.publish(ctx, EventUpdated, a.ID, a)
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, EventDeleted, id, nil)
	return nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Audit, int, error) {
	if k, ok := params["kind"]; ok && !oneOf(Kinds, k) {
		return nil, 0, fmt.Errorf("unknown kind %q", k)
	}
	return s.repo.Search(ctx, params, limit, offset)
}

// Compliance summarizes audits in the period by kind and area. An empty kind
// includes every kind.
func (s *Service) Compliance(ctx context.Context, p surveillance.Period, kind string) ([]ComplianceSummary, error) {
	if kind != "" && !oneOf(Kinds, kind) {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	audits, err := s.repo.ListInPeriod(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	if kind != "" {
		filtered := audits[:0]
		for _, a := range audits {
			if a.Kind == kind {
				filtered = append(filtered, a)
			}
		}
		audits = filtered
	}
	return Summarize(audits), nil
}

// ComplianceTable renders summaries for export.
func ComplianceTable(rows []ComplianceSummary) export.Table {
	t := export.Table{
		Sheet:   "Compliance",
		Headers: []string{"Kind", "Area", "Audits", "Observations", "Compliant", "Compliance %"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{r.Kind, r.Area, r.Audits, r.Observations, r.Compliant, r.Compliance})
	}
	return t
}
