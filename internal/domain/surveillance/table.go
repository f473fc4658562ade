package surveillance

import "github.com/ipc/ipc/internal/platform/export"

var rateHeaders = []string{
	"Ward", "Patient Days", "Vent Days", "IFC Days", "Central Days",
	"HAP", "VAP", "CAUTI", "CLABSI",
	"HAP Rate", "VAP Rate", "CAUTI Rate", "CLABSI Rate", "Overall Rate",
}

// RatesTable lays the report out one row per bucket, overall first.
func RatesTable(r RateReport) export.Table {
	t := export.Table{Sheet: "Rates", Headers: rateHeaders}
	for _, w := range AllBuckets {
		b := r.Bucket(w)
		t.Rows = append(t.Rows, []any{
			w.String(), b.PatientDays, b.VentDays, b.IFCDays, b.CentralDays,
			b.Counts.HAP, b.Counts.VAP, b.Counts.CAUTI, b.Counts.CLABSI,
			b.HAP, b.VAP, b.CAUTI, b.CLABSI, b.Overall,
		})
	}
	return t
}

// TrendTable has one row per month with the overall bucket's rates.
func TrendTable(months []MonthlyRates) export.Table {
	t := export.Table{
		Sheet:   "Trend",
		Headers: []string{"Month", "Logs", "Cases", "HAP Rate", "VAP Rate", "CAUTI Rate", "CLABSI Rate", "Overall Rate"},
	}
	for _, m := range months {
		o := m.Report.Overall
		t.Rows = append(t.Rows, []any{m.Month, m.LogCount, m.CaseCount, o.HAP, o.VAP, o.CAUTI, o.CLABSI, o.Overall})
	}
	return t
}
