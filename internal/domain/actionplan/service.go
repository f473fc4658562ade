package actionplan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ipc/ipc/internal/domain/audit"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/internal/platform/events"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClosed            = errors.New("plan is closed")
)

const (
	EventCreated       = "action_plan.created"
	EventUpdated       = "action_plan.updated"
	EventDeleted       = "action_plan.deleted"
	EventStatusChanged = "action_plan.status_changed"
)

// AuditLookup resolves the audit a plan was raised from.
type AuditLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*audit.Audit, error)
}

type Service struct {
	repo   Repository
	audits AuditLookup
	events events.Publisher
	now    func() time.Time
}

// NewService creates the plan service. audits may be nil, in which case
// audit_id is stored unchecked.
func NewService(repo Repository, audits AuditLookup, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{repo: repo, audits: audits, events: pub, now: time.Now}
}

func isStatus(v string) bool {
	for _, st := range Statuses {
		if st == v {
			return true
		}
	}
	return false
}

func (s *Service) today() string {
	return s.now().Format("2006-01-02")
}

func (s *Service) validate(ctx context.Context, p *Plan) error {
	for _, f := range []struct{ name, v string }{
		{"title", p.Title},
		{"area", p.Area},
		{"issue", p.Issue},
		{"action", p.Action},
		{"owner", p.Owner},
	} {
		if strings.TrimSpace(f.v) == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	if _, err := time.Parse("2006-01-02", p.DueDate); err != nil {
		return fmt.Errorf("due_date must be YYYY-MM-DD")
	}
	if p.AuditID != nil && s.audits != nil {
		if _, err := s.audits.Get(ctx, *p.AuditID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("audit %s does not exist", *p.AuditID)
			}
			return fmt.Errorf("lookup audit: %w", err)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ string, id uuid.UUID, data interface{}) {
	s.events.Publish(ctx, events.New(ctx, events.TopicActionPlan, typ, "action_plan", id.String(), data))
}

// Create opens a new plan.
func (s *Service) Create(ctx context.Context, p *Plan) error {
	if err := s.validate(ctx, p); err != nil {
		return err
	}
	p.Status = StatusOpen
	p.CompletedAt = nil
	p.CreatedBy = auth.UserIDFromContext(ctx)
	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("create action plan: %w", err)
	}
	s.publish(ctx, EventCreated, p.ID, p)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return s.repo.GetByID(ctx, id)
}

// Update edits the descriptive fields of an active plan. Status changes go
// through Transition.
func (s *Service) Update(ctx context.Context, p *Plan) error {
	if err := s.validate(ctx, p); err != nil {
		return err
	}
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if IsTerminal(existing.Status) {
		return ErrClosed
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	p.Status = existing.Status
	p.CompletedAt = existing.CompletedAt
	p.CreatedBy = existing.CreatedBy
	p.CreatedAt = existing.CreatedAt
	s.publish(ctx, EventUpdated, p.ID, p)
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, EventDeleted, id, nil)
	return nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Plan, int, error) {
	if st, ok := params["status"]; ok && !isStatus(st) {
		return nil, 0, fmt.Errorf("unknown status %q", st)
	}
	return s.repo.Search(ctx, params, limit, offset)
}

// Transition moves a plan to status. Completing a plan stamps completed_at;
// reopening clears it.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, status string) (*Plan, error) {
	if !isStatus(status) {
		return nil, fmt.Errorf("status must be one of: %s", strings.Join(Statuses, ", "))
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, p.Status, status)
	}
	var completedAt *time.Time
	if status == StatusCompleted {
		now := s.now().UTC()
		completedAt = &now
	}
	if err := s.repo.SetStatus(ctx, id, p.Status, status, completedAt); err != nil {
		return nil, err
	}
	p.Status = status
	p.CompletedAt = completedAt
	s.publish(ctx, EventStatusChanged, id, p)
	return p, nil
}

// Active returns open and in-progress plans ordered by due date.
func (s *Service) Active(ctx context.Context) ([]*Plan, error) {
	return s.repo.ListActive(ctx)
}

// Overdue returns active plans due before today.
func (s *Service) Overdue(ctx context.Context) ([]*Plan, error) {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	today := s.today()
	out := make([]*Plan, 0, len(active))
	for _, p := range active {
		if p.Overdue(today) {
			out = append(out, p)
		}
	}
	return out, nil
}
