package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/ipc/ipc/internal/domain/surveillance"
)

type Repository interface {
	Create(ctx context.Context, a *Audit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Audit, error)
	Update(ctx context.Context, a *Audit) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Audit, int, error)
	ListInPeriod(ctx context.Context, p surveillance.Period) ([]*Audit, error)
}
