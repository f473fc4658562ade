package surveillance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ipc/ipc/internal/platform/alerts"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/internal/platform/events"
)

// CensusSource returns daily census logs within a period.
type CensusSource interface {
	ListCensusLogs(ctx context.Context, p Period) ([]CensusLog, error)
}

// InfectionSource returns validated infection cases within a period. Pending
// and rejected cases must never be returned.
type InfectionSource interface {
	ListValidatedInfections(ctx context.Context, p Period) ([]InfectionRecord, error)
}

// SnapshotCache stores computed snapshots per tenant scope and generation.
type SnapshotCache interface {
	Generation(ctx context.Context, scope string) (string, error)
	GetAt(ctx context.Context, scope, gen, key string, dst interface{}) (bool, error)
	SetAt(ctx context.Context, scope, gen, key string, val interface{}) error
	Bump(ctx context.Context, scope string) error
}

type AlertEvaluator interface {
	Evaluate(metrics map[string]map[string]float64) []alerts.Alert
}

type RateObserver interface {
	ObserveRates(tenant string, metrics map[string]map[string]float64)
}

// ErrInvalidYear is returned by MonthlyTrend for years outside 2000-2100.
var ErrInvalidYear = errors.New("year must be between 2000 and 2100")

// computeTimeout bounds a shared computation once it no longer follows the
// first caller's context.
const computeTimeout = 30 * time.Second

// EventThresholdExceeded is published when a fresh computation fires alerts.
const EventThresholdExceeded = "rates.threshold_exceeded"

type Service struct {
	census     CensusSource
	infections InfectionSource
	cache      SnapshotCache
	alerts     AlertEvaluator
	observer   RateObserver
	events     events.Publisher
	logger     zerolog.Logger
	now        func() time.Time
	flight     singleflight.Group
}

func NewService(census CensusSource, infections InfectionSource, logger zerolog.Logger) *Service {
	return &Service{
		census:     census,
		infections: infections,
		events:     events.Nop,
		logger:     logger.With().Str("component", "surveillance").Logger(),
		now:        time.Now,
	}
}

func (s *Service) SetCache(c SnapshotCache) { s.cache = c }
func (s *Service) SetAlerts(a AlertEvaluator) { s.alerts = a }
func (s *Service) SetObserver(o RateObserver) { s.observer = o }
func (s *Service) SetPublisher(p events.Publisher) { s.events = p }

// fetch reads both inputs in turn. The tenant connection on ctx serves one
// query at a time.
func (s *Service) fetch(ctx context.Context, p Period) ([]CensusLog, []InfectionRecord, error) {
	logs, err := s.census.ListCensusLogs(ctx, p)
	if err != nil {
		return nil, nil, fmt.Errorf("list census logs: %w", err)
	}
	infections, err := s.infections.ListValidatedInfections(ctx, p)
	if err != nil {
		return nil, nil, fmt.Errorf("list validated infections: %w", err)
	}
	return logs, infections, nil
}

// generation returns the tenant's cache generation, or "" when snapshots
// should neither be read nor written.
func (s *Service) generation(ctx context.Context, tenant string) string {
	if s.cache == nil {
		return ""
	}
	gen, err := s.cache.Generation(ctx, tenant)
	if err != nil {
		s.logger.Warn().Err(err).Str("tenant", tenant).Msg("rate cache generation read failed")
		return ""
	}
	return gen
}

func (s *Service) cached(ctx context.Context, tenant, gen, key string, dst interface{}) bool {
	if gen == "" {
		return false
	}
	found, err := s.cache.GetAt(ctx, tenant, gen, key, dst)
	if err != nil {
		s.logger.Warn().Err(err).Str("tenant", tenant).Str("key", key).Msg("rate cache read failed")
		return false
	}
	return found
}

// store writes val under the generation read before its inputs were fetched,
// so an invalidation that raced the fetch leaves it unreachable.
func (s *Service) store(ctx context.Context, tenant, gen, key string, val interface{}) {
	if gen == "" {
		return
	}
	if err := s.cache.SetAt(ctx, tenant, gen, key, val); err != nil {
		s.logger.Warn().Err(err).Str("tenant", tenant).Str("key", key).Msg("rate cache write failed")
	}
}

// Rates computes the rate report for the period, serving it from the cache
// when the tenant's data has not changed since it was last computed.
//
// Concurrent misses for the same tenant, generation and period share one
// computation, which ignores the first caller's cancellation. It runs on that
// caller's tenant connection, so that caller waits for it even when its own
// context is done.
func (s *Service) Rates(ctx context.Context, p Period) (*RateSnapshot, error) {
	tenant := db.TenantFromContext(ctx)
	key := "rates:" + p.Key()
	gen := s.generation(ctx, tenant)

	var hit RateSnapshot
	if s.cached(ctx, tenant, gen, key, &hit) {
		return &hit, nil
	}

	v, err, _ := s.flight.Do(tenant+"|"+gen+"|"+key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		return s.compute(fctx, tenant, gen, key, p)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RateSnapshot), nil
}

func (s *Service) compute(ctx context.Context, tenant, gen, key string, p Period) (*RateSnapshot, error) {
	logs, infections, err := s.fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	report := CalculateInfectionRates(logs, infections)
	snap := &RateSnapshot{
		PeriodFrom:  boundString(p.From),
		PeriodTo:    boundString(p.To),
		LogCount:    len(logs),
		CaseCount:   len(infections),
		GeneratedAt: s.now().UTC(),
		Report:      report,
	}

	metrics := report.Metrics()
	if s.observer != nil {
		s.observer.ObserveRates(tenant, metrics)
	}
	if s.alerts != nil {
		snap.Alerts = s.alerts.Evaluate(metrics)
	}
	if len(snap.Alerts) > 0 {
		e := events.New(ctx, events.TopicRates, EventThresholdExceeded, "rate_report", p.Key(), snap.Alerts)
		if err := s.events.Publish(ctx, e); err != nil {
			s.logger.Warn().Err(err).Msg("publish threshold alert failed")
		}
		s.logger.Info().Str("tenant", tenant).Int("alerts", len(snap.Alerts)).Msg("rate thresholds exceeded")
	}

	s.store(ctx, tenant, gen, key, snap)
	return snap, nil
}

// Invalidate discards every cached snapshot for the tenant.
func (s *Service) Invalidate(ctx context.Context, tenant string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Bump(ctx, tenant)
}

// MonthlyTrend computes one report per calendar month of year.
func (s *Service) MonthlyTrend(ctx context.Context, year int) ([]MonthlyRates, error) {
	if year < 2000 || year > 2100 {
		return nil, ErrInvalidYear
	}
	tenant := db.TenantFromContext(ctx)
	key := fmt.Sprintf("trend:%d", year)
	gen := s.generation(ctx, tenant)
	var hit []MonthlyRates
	if s.cached(ctx, tenant, gen, key, &hit) {
		return hit, nil
	}

	p := Period{
		From: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
	logs, infections, err := s.fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	logsByMonth := make(map[string][]CensusLog, 12)
	for _, l := range logs {
		if len(l.Date) >= 7 {
			logsByMonth[l.Date[:7]] = append(logsByMonth[l.Date[:7]], l)
		}
	}
	casesByMonth := make(map[string][]InfectionRecord, 12)
	for _, r := range infections {
		m := r.Date.Format("2006-01")
		casesByMonth[m] = append(casesByMonth[m], r)
	}

	out := make([]MonthlyRates, 0, 12)
	for m := time.January; m <= time.December; m++ {
		month := fmt.Sprintf("%04d-%02d", year, int(m))
		ml, mc := logsByMonth[month], casesByMonth[month]
		out = append(out, MonthlyRates{
			Month:     month,
			LogCount:  len(ml),
			CaseCount: len(mc),
			Report:    CalculateInfectionRates(ml, mc),
		})
	}

	s.store(ctx, tenant, gen, key, out)
	return out, nil
}

func boundString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
