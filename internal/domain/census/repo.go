package census

import (
	"context"

	"github.com/ipc/ipc/internal/domain/surveillance"
)

type Repository interface {
	// Upsert inserts the day or replaces every count of an existing one.
	Upsert(ctx context.Context, c *DailyCensus) error
	GetByDate(ctx context.Context, date string) (*DailyCensus, error)
	Delete(ctx context.Context, date string) error
	List(ctx context.Context, p surveillance.Period, limit, offset int) ([]*DailyCensus, int, error)
	ListAll(ctx context.Context, p surveillance.Period) ([]*DailyCensus, error)
}
