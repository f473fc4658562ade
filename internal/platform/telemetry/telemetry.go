// Package telemetry keeps in-process request and surveillance metrics and
// serves them in the Prometheus exposition format.
package telemetry

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/ipc/ipc/internal/platform/events"
)

// durationBuckets are request latency bounds in seconds.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// rateMetrics are the report fields exported as ipc_infection_rate.
var rateMetrics = []string{"hap", "vap", "cauti", "clabsi", "overall"}

type requestKey struct {
	method, route, status string
}

type rateKey struct {
	tenant, ward, metric string
}

type histogram struct {
	counts []uint64 // per bucket, non-cumulative
	count  uint64
	sum    float64
}

func (h *histogram) observe(v float64) {
	h.count++
	h.sum += v
	for i, b := range durationBuckets {
		if v <= b {
			h.counts[i]++
			return
		}
	}
}

// Registry holds every metric the server exports.
type Registry struct {
	mu          sync.Mutex
	requests    map[requestKey]uint64
	durations   map[string]*histogram // by route
	rates       map[rateKey]float64
	patientDays map[rateKey]float64
	events      map[string]uint64
	started     time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		requests:    make(map[requestKey]uint64),
		durations:   make(map[string]*histogram),
		rates:       make(map[rateKey]float64),
		patientDays: make(map[rateKey]float64),
		events:      make(map[string]uint64),
		started:     time.Now(),
	}
}

// ObserveRequest records one completed HTTP request.
func (r *Registry) ObserveRequest(method, route string, status int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[requestKey{method, route, strconv.Itoa(status)}]++
	h, ok := r.durations[route]
	if !ok {
		h = &histogram{counts: make([]uint64, len(durationBuckets))}
		r.durations[route] = h
	}
	h.observe(d.Seconds())
}

// ObserveRates replaces the tenant's rate gauges with metrics
// (ward -> metric -> value).
func (r *Registry) ObserveRates(tenant string, metrics map[string]map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ward, values := range metrics {
		for _, m := range rateMetrics {
			if v, ok := values[m]; ok {
				r.rates[rateKey{tenant, ward, m}] = v
			}
		}
		if v, ok := values["patient_days"]; ok {
			r.patientDays[rateKey{tenant: tenant, ward: ward}] = v
		}
	}
}

// Publish counts events by type; it lets the registry sit in an event fan-out.
func (r *Registry) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.events[e.Type]++
	r.mu.Unlock()
	return nil
}

// Middleware records request counts and latency by route template.
func (r *Registry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			r.ObserveRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

// Gather snapshots every metric family, sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	reqs := &dto.MetricFamily{
		Name: proto.String("ipc_http_requests_total"),
		Help: proto.String("HTTP requests by method, route and status."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for k, v := range r.requests {
		reqs.Metric = append(reqs.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{label("method", k.method), label("route", k.route), label("status", k.status)},
			Counter: &dto.Counter{Value: proto.Float64(float64(v))},
		})
	}

	lat := &dto.MetricFamily{
		Name: proto.String("ipc_http_request_duration_seconds"),
		Help: proto.String("HTTP request latency by route."),
		Type: dto.MetricType_HISTOGRAM.Enum(),
	}
	for route, h := range r.durations {
		buckets := make([]*dto.Bucket, len(durationBuckets))
		var cum uint64
		for i, b := range durationBuckets {
			cum += h.counts[i]
			buckets[i] = &dto.Bucket{UpperBound: proto.Float64(b), CumulativeCount: proto.Uint64(cum)}
		}
		lat.Metric = append(lat.Metric, &dto.Metric{
			Label: []*dto.LabelPair{label("route", route)},
			Histogram: &dto.Histogram{
				SampleCount: proto.Uint64(h.count),
				SampleSum:   proto.Float64(h.sum),
				Bucket:      buckets,
			},
		})
	}

	rates := &dto.MetricFamily{
		Name: proto.String("ipc_infection_rate"),
		Help: proto.String("Most recently computed infection rate per 1000 patient or device days."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for k, v := range r.rates {
		rates.Metric = append(rates.Metric, &dto.Metric{
			Label: []*dto.LabelPair{label("tenant", k.tenant), label("ward", k.ward), label("metric", k.metric)},
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		})
	}

	days := &dto.MetricFamily{
		Name: proto.String("ipc_patient_days"),
		Help: proto.String("Patient days behind the most recent rate computation."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for k, v := range r.patientDays {
		days.Metric = append(days.Metric, &dto.Metric{
			Label: []*dto.LabelPair{label("tenant", k.tenant), label("ward", k.ward)},
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		})
	}

	evts := &dto.MetricFamily{
		Name: proto.String("ipc_events_total"),
		Help: proto.String("Domain events published by type."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for typ, v := range r.events {
		evts.Metric = append(evts.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{label("type", typ)},
			Counter: &dto.Counter{Value: proto.Float64(float64(v))},
		})
	}

	uptime := &dto.MetricFamily{
		Name: proto.String("ipc_uptime_seconds"),
		Help: proto.String("Seconds since the server started."),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Gauge: &dto.Gauge{Value: proto.Float64(time.Since(r.started).Seconds())},
		}},
	}

	out := []*dto.MetricFamily{reqs, lat, rates, days, evts, uptime}
	for _, mf := range out {
		sortMetrics(mf.Metric)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

func sortMetrics(ms []*dto.Metric) {
	key := func(m *dto.Metric) string {
		s := ""
		for _, l := range m.GetLabel() {
			s += l.GetName() + "=" + l.GetValue() + ","
		}
		return s
	}
	sort.Slice(ms, func(i, j int) bool { return key(ms[i]) < key(ms[j]) })
}

// Handler serves the registry in whichever exposition format the scraper asks
// for. Empty families are skipped.
func (r *Registry) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		format := expfmt.Negotiate(c.Request().Header)
		c.Response().Header().Set(echo.HeaderContentType, string(format))
		c.Response().WriteHeader(http.StatusOK)

		enc := expfmt.NewEncoder(c.Response(), format)
		for _, mf := range r.Gather() {
			if len(mf.Metric) == 0 {
				continue
			}
			if err := enc.Encode(mf); err != nil {
				return err
			}
		}
		return nil
	}
}
