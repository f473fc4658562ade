package hai

import (
	"context"

	"github.com/google/uuid"

	"github.com/ipc/ipc/internal/domain/surveillance"
)

type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	Update(ctx context.Context, c *Case) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Case, int, error)
	// SetReview moves a pending case to r.Status. It returns ErrNotPending if
	// the case has already been reviewed.
	SetReview(ctx context.Context, id uuid.UUID, r Review) error
	ListValidated(ctx context.Context, p surveillance.Period) ([]*Case, error)
}
