package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/ipc/ipc/internal/domain/surveillance"
)

type NotifiableRepository interface {
	Create(ctx context.Context, r *NotifiableReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*NotifiableReport, error)
	Update(ctx context.Context, r *NotifiableReport) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*NotifiableReport, int, error)
	SetReview(ctx context.Context, id uuid.UUID, status, reviewer string, note *string) error
}

type IsolationRepository interface {
	Create(ctx context.Context, a *IsolationAdmission) error
	GetByID(ctx context.Context, id uuid.UUID) (*IsolationAdmission, error)
	Update(ctx context.Context, a *IsolationAdmission) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*IsolationAdmission, int, error)
	Discharge(ctx context.Context, id uuid.UUID, date string) error
}

type SharpsRepository interface {
	Create(ctx context.Context, s *SharpsInjury) error
	GetByID(ctx context.Context, id uuid.UUID) (*SharpsInjury, error)
	Update(ctx context.Context, s *SharpsInjury) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*SharpsInjury, int, error)
}

type CultureRepository interface {
	Create(ctx context.Context, c *CultureResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*CultureResult, error)
	Update(ctx context.Context, c *CultureResult) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*CultureResult, int, error)
	ListInPeriod(ctx context.Context, p surveillance.Period) ([]*CultureResult, error)
}
