package actionplan

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Plan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	Update(ctx context.Context, p *Plan) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Plan, int, error)
	// SetStatus moves a plan to status only if it is still in from.
	SetStatus(ctx context.Context, id uuid.UUID, from, to string, completedAt *time.Time) error
	ListActive(ctx context.Context) ([]*Plan, error)
}
