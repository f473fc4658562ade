package census

import (
	"context"
	"fmt"
	"time"

	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/events"
)

const (
	EventUpdated = "census.updated"
	EventDeleted = "census.deleted"
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

func (s *Service) validDate(date string) error {
	if date == "" {
		return fmt.Errorf("date is required")
	}
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	today := s.now().Format("2006-01-02")
	if d.Format("2006-01-02") > today {
		return fmt.Errorf("date cannot be in the future")
	}
	return nil
}

// Record stores the census for c.Date, replacing any earlier entry for that day.
func (s *Service) Record(ctx context.Context, c *DailyCensus) error {
	if err := s.validDate(c.Date); err != nil {
		return err
	}
	c.RecordedBy = auth.UserIDFromContext(ctx)
	if err := s.repo.Upsert(ctx, c); err != nil {
		return fmt.Errorf("upsert census %s: %w", c.Date, err)
	}
	s.events.Publish(ctx, events.New(ctx, events.TopicCensus, EventUpdated, "census_log", c.Date, c))
	return nil
}

func (s *Service) Get(ctx context.Context, date string) (*DailyCensus, error) {
	if err := s.validDate(date); err != nil {
		return nil, err
	}
	return s.repo.GetByDate(ctx, date)
}

func (s *Service) Delete(ctx context.Context, date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	if err := s.repo.Delete(ctx, date); err != nil {
		return err
	}
	s.events.Publish(ctx, events.New(ctx, events.TopicCensus, EventDeleted, "census_log", date, nil))
	return nil
}

func (s *Service) List(ctx context.Context, p surveillance.Period, limit, offset int) ([]*DailyCensus, int, error) {
	return s.repo.List(ctx, p, limit, offset)
}

// ListCensusLogs feeds the rate calculator.
func (s *Service) ListCensusLogs(ctx context.Context, p surveillance.Period) ([]surveillance.CensusLog, error) {
	items, err := s.repo.ListAll(ctx, p)
	if err != nil {
		return nil, err
	}
	logs := make([]surveillance.CensusLog, len(items))
	for i, c := range items {
		logs[i] = c.Log()
	}
	return logs, nil
}
