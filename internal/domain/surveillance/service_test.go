package surveillance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/platform/alerts"
	"github.com/ipc/ipc/internal/platform/cache"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/internal/platform/events"
)

// -- Mock sources --

type mockCensusSource struct {
	mu    sync.Mutex
	logs  []CensusLog
	calls int
	err   error

	// When set, the call signals entered and then blocks until release is
	// closed, failing like a cancelled query if ctx is done by then.
	entered chan struct{}
	release chan struct{}
}

func (m *mockCensusSource) ListCensusLogs(ctx context.Context, p Period) ([]CensusLog, error) {
	if m.release != nil {
		m.entered <- struct{}{}
		<-m.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []CensusLog
	for _, l := range m.logs {
		d, err := time.Parse(dateLayout, l.Date)
		if err == nil && p.Contains(d) {
			out = append(out, l)
		}
	}
	return out, nil
}

type mockInfectionSource struct {
	mu    sync.Mutex
	cases []InfectionRecord
	calls int

	// afterRead runs once the result has been read, before it is returned.
	afterRead func()
}

func (m *mockInfectionSource) ListValidatedInfections(_ context.Context, p Period) ([]InfectionRecord, error) {
	m.mu.Lock()
	m.calls++
	var out []InfectionRecord
	for _, r := range m.cases {
		if p.Contains(r.Date) {
			out = append(out, r)
		}
	}
	hook := m.afterRead
	m.afterRead = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

type recordingObserver struct {
	tenant  string
	metrics map[string]map[string]float64
}

func (o *recordingObserver) ObserveRates(tenant string, metrics map[string]map[string]float64) {
	o.tenant, o.metrics = tenant, metrics
}

func day(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func icuScenario() (*mockCensusSource, *mockInfectionSource) {
	census := &mockCensusSource{logs: []CensusLog{
		{Date: "2024-01-15", Overall: WardCensus{Patients: 100}, ICU: WardCensus{Patients: 10, Vent: 10}},
	}}
	infections := &mockInfectionSource{cases: []InfectionRecord{
		{HAIType: HAITypeVAP, Area: "ICU", Date: day("2024-01-20")},
	}}
	return census, infections
}

func tenantCtx(tenant string) context.Context {
	return db.WithTenant(context.Background(), tenant, nil)
}

func TestService_Rates(t *testing.T) {
	census, infections := icuScenario()
	svc := NewService(census, infections, zerolog.Nop())

	snap, err := svc.Rates(context.Background(), Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.LogCount != 1 || snap.CaseCount != 1 {
		t.Errorf("expected 1 log and 1 case, got %d/%d", snap.LogCount, snap.CaseCount)
	}
	if snap.Report.ICU.VAP != 100 {
		t.Errorf("expected icu vap 100, got %v", snap.Report.ICU.VAP)
	}
	if snap.Report.Overall.VAP != 0 {
		t.Errorf("expected overall vap 0 with no overall vent days, got %v", snap.Report.Overall.VAP)
	}
	if snap.PeriodFrom != "" || snap.PeriodTo != "" {
		t.Errorf("open period should have empty bounds, got %q..%q", snap.PeriodFrom, snap.PeriodTo)
	}
}

func TestService_Rates_FiltersPeriod(t *testing.T) {
	census, infections := icuScenario()
	svc := NewService(census, infections, zerolog.Nop())

	p, _ := ParsePeriod("2024-02-01", "2024-02-29")
	snap, err := svc.Rates(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.LogCount != 0 || snap.CaseCount != 0 {
		t.Errorf("expected empty period, got %d logs %d cases", snap.LogCount, snap.CaseCount)
	}
	if snap.PeriodFrom != "2024-02-01" || snap.PeriodTo != "2024-02-29" {
		t.Errorf("unexpected bounds %q..%q", snap.PeriodFrom, snap.PeriodTo)
	}
}

func TestService_Rates_SourceError(t *testing.T) {
	census, infections := icuScenario()
	census.err = errors.New("db down")
	svc := NewService(census, infections, zerolog.Nop())

	if _, err := svc.Rates(context.Background(), Period{}); err == nil {
		t.Fatal("expected error from failing census source")
	}
}

func TestService_Rates_Cached(t *testing.T) {
	census, infections := icuScenario()
	svc := NewService(census, infections, zerolog.Nop())
	svc.SetCache(cache.NewVersioned(cache.NewMemoryKV(), "rates", time.Minute))
	ctx := tenantCtx("general")

	first, err := svc.Rates(ctx, Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	census.logs = append(census.logs, CensusLog{Date: "2024-01-16", ICU: WardCensus{Patients: 10, Vent: 10}})

	second, err := svc.Rates(ctx, Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if census.calls != 1 {
		t.Errorf("expected cached second call, census fetched %d times", census.calls)
	}
	if second.Report.ICU.VAP != first.Report.ICU.VAP {
		t.Errorf("cached report differs: %v vs %v", second.Report.ICU.VAP, first.Report.ICU.VAP)
	}

	if err := svc.Invalidate(ctx, "general"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	third, err := svc.Rates(ctx, Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if census.calls != 2 {
		t.Errorf("expected refetch after invalidate, got %d calls", census.calls)
	}
	if third.Report.ICU.VAP != 50 {
		t.Errorf("expected icu vap 50 after second log, got %v", third.Report.ICU.VAP)
	}
}

func TestService_Rates_InvalidateDuringFetch(t *testing.T) {
	census := &mockCensusSource{logs: []CensusLog{
		{Date: "2024-01-15", ICU: WardCensus{Patients: 10, Vent: 10}},
	}}
	infections := &mockInfectionSource{}
	svc := NewService(census, infections, zerolog.Nop())
	svc.SetCache(cache.NewVersioned(cache.NewMemoryKV(), "rates", time.Minute))
	ctx := tenantCtx("general")

	// A case is validated after the read but before the snapshot is cached.
	infections.afterRead = func() {
		infections.mu.Lock()
		infections.cases = append(infections.cases, InfectionRecord{HAIType: HAITypeVAP, Area: "ICU", Date: day("2024-01-16")})
		infections.mu.Unlock()
		if err := svc.Invalidate(ctx, "general"); err != nil {
			t.Errorf("invalidate: %v", err)
		}
	}

	first, err := svc.Rates(ctx, Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Report.ICU.Counts.VAP != 0 {
		t.Fatalf("first read should predate the new case, got %d", first.Report.ICU.Counts.VAP)
	}

	second, err := svc.Rates(ctx, Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Report.ICU.Counts.VAP != 1 {
		t.Errorf("expected icu vap count 1 after invalidation, got %d", second.Report.ICU.Counts.VAP)
	}
	if census.calls != 2 {
		t.Errorf("expected a refetch after invalidation, got %d census calls", census.calls)
	}
}

func TestService_Rates_SharedComputationSurvivesCallerCancel(t *testing.T) {
	census, infections := icuScenario()
	census.entered = make(chan struct{}, 1)
	census.release = make(chan struct{})
	svc := NewService(census, infections, zerolog.Nop())

	ctxA, cancelA := context.WithCancel(tenantCtx("general"))
	defer cancelA()
	type result struct {
		snap *RateSnapshot
		err  error
	}
	resA := make(chan result, 1)
	go func() {
		snap, err := svc.Rates(ctxA, Period{})
		resA <- result{snap, err}
	}()
	<-census.entered

	resB := make(chan result, 1)
	go func() {
		snap, err := svc.Rates(tenantCtx("general"), Period{})
		resB <- result{snap, err}
	}()
	// Give B time to join A's computation.
	time.Sleep(100 * time.Millisecond)

	cancelA()
	close(census.release)

	b := <-resB
	if b.err != nil {
		t.Fatalf("caller B failed after caller A cancelled: %v", b.err)
	}
	if b.snap.Report.ICU.VAP != 100 {
		t.Errorf("expected icu vap 100, got %v", b.snap.Report.ICU.VAP)
	}
	if a := <-resA; a.err != nil {
		t.Errorf("caller A should still receive the shared result, got %v", a.err)
	}
	if census.calls != 1 {
		t.Errorf("expected one shared fetch, got %d", census.calls)
	}
}

func TestService_Rates_CacheIsPerTenant(t *testing.T) {
	census, infections := icuScenario()
	svc := NewService(census, infections, zerolog.Nop())
	svc.SetCache(cache.NewVersioned(cache.NewMemoryKV(), "rates", time.Minute))

	if _, err := svc.Rates(tenantCtx("a"), Period{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Rates(tenantCtx("b"), Period{}); err != nil {
		t.Fatal(err)
	}
	if census.calls != 2 {
		t.Errorf("expected one fetch per tenant, got %d", census.calls)
	}
}

func TestService_Rates_AlertsAndObserver(t *testing.T) {
	census, infections := icuScenario()
	svc := NewService(census, infections, zerolog.Nop())

	rules, err := alerts.ParseRules([]byte("rules:\n  - name: icu-vap\n    ward: icu\n    condition: \"vap > 5\"\n    severity: critical\n"))
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	svc.SetAlerts(alerts.NewEngine(rules))
	obs := &recordingObserver{}
	svc.SetObserver(obs)
	var published []events.Event
	svc.SetPublisher(events.PublisherFunc(func(_ context.Context, e events.Event) error {
		published = append(published, e)
		return nil
	}))

	snap, err := svc.Rates(tenantCtx("general"), Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Alerts) != 1 || snap.Alerts[0].Ward != "icu" || snap.Alerts[0].Value != 100 {
		t.Fatalf("expected one icu vap alert, got %+v", snap.Alerts)
	}
	if obs.tenant != "general" || obs.metrics["icu"]["vap"] != 100 {
		t.Errorf("observer not fed: tenant=%q metrics=%v", obs.tenant, obs.metrics["icu"])
	}
	if len(published) != 1 || published[0].Type != EventThresholdExceeded || published[0].Topic != events.TopicRates {
		t.Errorf("expected one threshold event, got %+v", published)
	}
}

func TestService_MonthlyTrend(t *testing.T) {
	census := &mockCensusSource{logs: []CensusLog{
		{Date: "2024-01-10", Overall: WardCensus{Patients: 100}},
		{Date: "2024-01-11", Overall: WardCensus{Patients: 100}},
		{Date: "2024-03-01", Overall: WardCensus{Patients: 50}},
		{Date: "2023-12-31", Overall: WardCensus{Patients: 999}},
	}}
	infections := &mockInfectionSource{cases: []InfectionRecord{
		{HAIType: HAITypeHAP, Area: "Medicine Ward", Date: day("2024-01-12")},
		{HAIType: HAITypeHAP, Area: "Medicine Ward", Date: day("2024-03-02")},
	}}
	svc := NewService(census, infections, zerolog.Nop())

	months, err := svc.MonthlyTrend(context.Background(), 2024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(months) != 12 {
		t.Fatalf("expected 12 months, got %d", len(months))
	}
	if months[0].Month != "2024-01" || months[0].LogCount != 2 || months[0].Report.Overall.HAP != 5 {
		t.Errorf("january: %+v", months[0])
	}
	if months[1].LogCount != 0 || months[1].Report.Overall.HAP != 0 {
		t.Errorf("february should be empty: %+v", months[1])
	}
	if months[2].Report.Overall.HAP != 20 {
		t.Errorf("expected march hap 20, got %v", months[2].Report.Overall.HAP)
	}
}

func TestService_MonthlyTrend_InvalidYear(t *testing.T) {
	census, infections := icuScenario()
	svc := NewService(census, infections, zerolog.Nop())
	if _, err := svc.MonthlyTrend(context.Background(), 1999); !errors.Is(err, ErrInvalidYear) {
		t.Errorf("expected ErrInvalidYear, got %v", err)
	}
}

func TestRatesTable(t *testing.T) {
	census, infections := icuScenario()
	logs, _ := census.ListCensusLogs(context.Background(), Period{})
	cases, _ := infections.ListValidatedInfections(context.Background(), Period{})
	tbl := RatesTable(CalculateInfectionRates(logs, cases))

	if len(tbl.Rows) != len(AllBuckets) {
		t.Fatalf("expected %d rows, got %d", len(AllBuckets), len(tbl.Rows))
	}
	if tbl.Rows[0][0] != "overall" || tbl.Rows[1][0] != "icu" {
		t.Errorf("unexpected row order: %v, %v", tbl.Rows[0][0], tbl.Rows[1][0])
	}
	if len(tbl.Rows[1]) != len(tbl.Headers) {
		t.Errorf("row width %d != header width %d", len(tbl.Rows[1]), len(tbl.Headers))
	}
	if tbl.Rows[1][10] != 100.0 {
		t.Errorf("expected icu vap rate 100 in column 10, got %v", tbl.Rows[1][10])
	}
}
