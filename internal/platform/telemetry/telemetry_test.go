package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipc/ipc/internal/platform/events"
)

func scrape(t *testing.T, r *Registry) map[string]*dto.MetricFamily {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, r.Handler()(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(rec.Body)
	require.NoError(t, err)
	return mfs
}

func findMetric(mf *dto.MetricFamily, labels map[string]string) *dto.Metric {
	for _, m := range mf.GetMetric() {
		match := true
		for _, l := range m.GetLabel() {
			if want, ok := labels[l.GetName()]; ok && want != l.GetValue() {
				match = false
			}
		}
		if match {
			return m
		}
	}
	return nil
}

func TestRegistry_ObserveRates(t *testing.T) {
	r := NewRegistry()
	r.ObserveRates("general", map[string]map[string]float64{
		"icu":     {"vap": 100, "hap": 0, "patient_days": 10, "cases": 1},
		"overall": {"vap": 0, "patient_days": 100},
	})

	mfs := scrape(t, r)
	rates := mfs["ipc_infection_rate"]
	require.NotNil(t, rates)
	assert.Equal(t, dto.MetricType_GAUGE, rates.GetType())

	m := findMetric(rates, map[string]string{"tenant": "general", "ward": "icu", "metric": "vap"})
	require.NotNil(t, m)
	assert.Equal(t, 100.0, m.GetGauge().GetValue())
	assert.Len(t, rates.GetMetric(), 3, "cases is not a rate metric")

	days := mfs["ipc_patient_days"]
	require.NotNil(t, days)
	assert.Len(t, days.GetMetric(), 2)
}

func TestRegistry_Middleware(t *testing.T) {
	r := NewRegistry()
	e := echo.New()
	e.Use(r.Middleware())
	e.GET("/api/v1/census/:date", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusConflict, "x") })

	for _, p := range []string{"/api/v1/census/2024-01-01", "/api/v1/census/2024-01-02", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	mfs := scrape(t, r)
	reqs := mfs["ipc_http_requests_total"]
	require.NotNil(t, reqs)
	m := findMetric(reqs, map[string]string{"route": "/api/v1/census/:date", "status": "204"})
	require.NotNil(t, m)
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
	require.NotNil(t, findMetric(reqs, map[string]string{"route": "/boom", "status": "409"}))

	lat := mfs["ipc_http_request_duration_seconds"]
	require.NotNil(t, lat)
	h := findMetric(lat, map[string]string{"route": "/api/v1/census/:date"}).GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
}

func TestRegistry_HistogramBuckets(t *testing.T) {
	r := NewRegistry()
	r.ObserveRequest("GET", "/x", 200, 3*time.Millisecond)
	r.ObserveRequest("GET", "/x", 200, 300*time.Millisecond)
	r.ObserveRequest("GET", "/x", 200, 20*time.Second)

	var lat *dto.MetricFamily
	for _, mf := range r.Gather() {
		if mf.GetName() == "ipc_http_request_duration_seconds" {
			lat = mf
		}
	}
	require.NotNil(t, lat)
	b := lat.GetMetric()[0].GetHistogram().GetBucket()
	assert.Equal(t, uint64(1), b[0].GetCumulativeCount())            // <= 5ms
	assert.Equal(t, uint64(2), b[6].GetCumulativeCount())            // <= 0.5s
	assert.Equal(t, uint64(2), b[len(b)-1].GetCumulativeCount())     // <= 10s, 20s only in count
	assert.Equal(t, uint64(3), lat.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRegistry_CountsEvents(t *testing.T) {
	r := NewRegistry()
	var p events.Publisher = r
	require.NoError(t, p.Publish(context.Background(), events.Event{Type: "hai.validated"}))
	require.NoError(t, p.Publish(context.Background(), events.Event{Type: "hai.validated"}))

	mfs := scrape(t, r)
	m := findMetric(mfs["ipc_events_total"], map[string]string{"type": "hai.validated"})
	require.NotNil(t, m)
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}

func TestRegistry_GatherSorted(t *testing.T) {
	names := []string{}
	for _, mf := range NewRegistry().Gather() {
		names = append(names, mf.GetName())
	}
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "ipc_uptime_seconds")
}
