package surveillance

import (
	"fmt"
	"time"

	"github.com/ipc/ipc/internal/platform/alerts"
)

// WardCensus is one ward's patient census and device-days for a single day.
type WardCensus struct {
	Patients int `json:"patients"`
	Vent     int `json:"vent"`
	IFC      int `json:"ifc"`
	Central  int `json:"central"`
}

// CensusLog is the daily census input to the rate calculator. Overall holds the
// facility-wide figures, which are entered independently of the ward blocks.
type CensusLog struct {
	Date     string     `json:"date"`
	Overall  WardCensus `json:"overall"`
	ICU      WardCensus `json:"icu"`
	NICU     WardCensus `json:"nicu"`
	PICU     WardCensus `json:"picu"`
	Medicine WardCensus `json:"medicine"`
	Cohort   WardCensus `json:"cohort"`
}

// ward returns the census block feeding the given bucket.
func (l CensusLog) ward(w Ward) WardCensus {
	switch w {
	case WardOverall:
		return l.Overall
	case WardICU:
		return l.ICU
	case WardPICU:
		return l.PICU
	case WardNICU:
		return l.NICU
	case WardMedicine:
		return l.Medicine
	case WardCohort:
		return l.Cohort
	}
	return WardCensus{}
}

// InfectionRecord is a validated infection case as seen by the calculator.
// Date is only used to partition records into reporting periods.
type InfectionRecord struct {
	HAIType string    `json:"hai_type"`
	Area    string    `json:"area"`
	Date    time.Time `json:"date,omitempty"`
}

// CategoryCounts holds raw case counts per rate category.
type CategoryCounts struct {
	HAP    int `json:"hap"`
	VAP    int `json:"vap"`
	CAUTI  int `json:"cauti"`
	CLABSI int `json:"clabsi"`
}

// Total returns the number of cases across all four categories.
func (c CategoryCounts) Total() int {
	return c.HAP + c.VAP + c.CAUTI + c.CLABSI
}

func (c CategoryCounts) inc(cat Category) CategoryCounts {
	switch cat {
	case CategoryHAP:
		c.HAP++
	case CategoryVAP:
		c.VAP++
	case CategoryCAUTI:
		c.CAUTI++
	case CategoryCLABSI:
		c.CLABSI++
	}
	return c
}

// WardRates is one finalized bucket of the rate report. Rates are per 1,000
// patient-days (hap, overall) or device-days (vap, cauti, clabsi).
type WardRates struct {
	HAP     float64 `json:"hap"`
	VAP     float64 `json:"vap"`
	CAUTI   float64 `json:"cauti"`
	CLABSI  float64 `json:"clabsi"`
	Overall float64 `json:"overall"`

	PatientDays int            `json:"patient_days"`
	VentDays    int            `json:"vent_days"`
	IFCDays     int            `json:"ifc_days"`
	CentralDays int            `json:"central_days"`
	Counts      CategoryCounts `json:"counts"`
}

// RateReport is the output of CalculateInfectionRates.
type RateReport struct {
	Overall  WardRates `json:"overall"`
	ICU      WardRates `json:"icu"`
	PICU     WardRates `json:"picu"`
	NICU     WardRates `json:"nicu"`
	Medicine WardRates `json:"medicine"`
	Cohort   WardRates `json:"cohort"`
}

// Bucket returns the rates for the given ward.
func (r RateReport) Bucket(w Ward) WardRates {
	switch w {
	case WardICU:
		return r.ICU
	case WardPICU:
		return r.PICU
	case WardNICU:
		return r.NICU
	case WardMedicine:
		return r.Medicine
	case WardCohort:
		return r.Cohort
	}
	return r.Overall
}

// Metrics flattens the report into ward -> metric -> value for alert rules and
// gauges.
func (r RateReport) Metrics() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(AllBuckets))
	for _, w := range AllBuckets {
		b := r.Bucket(w)
		out[w.String()] = map[string]float64{
			"hap":          b.HAP,
			"vap":          b.VAP,
			"cauti":        b.CAUTI,
			"clabsi":       b.CLABSI,
			"overall":      b.Overall,
			"patient_days": float64(b.PatientDays),
			"cases":        float64(b.Counts.Total()),
		}
	}
	return out
}

// Period is an inclusive date range. A zero bound is open.
type Period struct {
	From time.Time
	To   time.Time
}

const dateLayout = "2006-01-02"

// ParsePeriod builds a Period from optional YYYY-MM-DD strings.
func ParsePeriod(from, to string) (Period, error) {
	var p Period
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return p, fmt.Errorf("invalid from date %q", from)
		}
		p.From = t
	}
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return p, fmt.Errorf("invalid to date %q", to)
		}
		p.To = t
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return p, fmt.Errorf("to date is before from date")
	}
	return p, nil
}

// Contains reports whether d falls within the period, comparing calendar dates.
func (p Period) Contains(d time.Time) bool {
	day := d.Format(dateLayout)
	if !p.From.IsZero() && day < p.From.Format(dateLayout) {
		return false
	}
	if !p.To.IsZero() && day > p.To.Format(dateLayout) {
		return false
	}
	return true
}

// Key is a stable cache key for the period.
func (p Period) Key() string {
	return formatBound(p.From) + ".." + formatBound(p.To)
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.Format(dateLayout)
}

// RateSnapshot is a computed report together with its inputs' extent.
type RateSnapshot struct {
	PeriodFrom  string         `json:"period_from,omitempty"`
	PeriodTo    string         `json:"period_to,omitempty"`
	LogCount    int            `json:"log_count"`
	CaseCount   int            `json:"case_count"`
	GeneratedAt time.Time      `json:"generated_at"`
	Report      RateReport     `json:"report"`
	Alerts      []alerts.Alert `json:"alerts,omitempty"`
}

// MonthlyRates is one point of a yearly trend.
type MonthlyRates struct {
	Month     string     `json:"month"`
	LogCount  int        `json:"log_count"`
	CaseCount int        `json:"case_count"`
	Report    RateReport `json:"report"`
}
