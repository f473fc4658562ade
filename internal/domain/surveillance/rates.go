package surveillance

import "math"

// tally accumulates denominators and case counts for one bucket.
type tally struct {
	patientDays int
	ventDays    int
	ifcDays     int
	centralDays int
	counts      CategoryCounts
}

func (t tally) withCensus(w WardCensus) tally {
	t.patientDays += w.Patients
	t.ventDays += w.Vent
	t.ifcDays += w.IFC
	t.centralDays += w.Central
	return t
}

func (t tally) withCase(c Category) tally {
	t.counts = t.counts.inc(c)
	return t
}

func (t tally) finalize() WardRates {
	return WardRates{
		HAP:         perThousand(t.counts.HAP, t.patientDays),
		VAP:         perThousand(t.counts.VAP, t.ventDays),
		CAUTI:       perThousand(t.counts.CAUTI, t.ifcDays),
		CLABSI:      perThousand(t.counts.CLABSI, t.centralDays),
		Overall:     perThousand(t.counts.Total(), t.patientDays),
		PatientDays: t.patientDays,
		VentDays:    t.ventDays,
		IFCDays:     t.ifcDays,
		CentralDays: t.centralDays,
		Counts:      t.counts,
	}
}

// tallies is indexed by Ward.
type tallies [WardCohort + 1]tally

func (acc tallies) addCensus(l CensusLog) tallies {
	for _, w := range AllBuckets {
		acc[w] = acc[w].withCensus(l.ward(w))
	}
	return acc
}

func (acc tallies) addInfection(r InfectionRecord) tallies {
	cat, ok := CategoryFor(r.HAIType)
	if !ok {
		return acc
	}
	acc[WardOverall] = acc[WardOverall].withCase(cat)
	if w, ok := ClassifyArea(r.Area); ok {
		acc[w] = acc[w].withCase(cat)
	}
	return acc
}

func (acc tallies) report() RateReport {
	return RateReport{
		Overall:  acc[WardOverall].finalize(),
		ICU:      acc[WardICU].finalize(),
		PICU:     acc[WardPICU].finalize(),
		NICU:     acc[WardNICU].finalize(),
		Medicine: acc[WardMedicine].finalize(),
		Cohort:   acc[WardCohort].finalize(),
	}
}

// CalculateInfectionRates folds daily census logs and validated infection
// cases into per-ward incidence rates per 1,000 patient- or device-days.
//
// Logs are summed as given, so two entries for the same date both count.
// Unknown HAI types contribute nothing; cases whose area matches no ward only
// count toward the overall bucket. A zero denominator yields a zero rate.
func CalculateInfectionRates(logs []CensusLog, infections []InfectionRecord) RateReport {
	var acc tallies
	for _, l := range logs {
		acc = acc.addCensus(l)
	}
	for _, r := range infections {
		acc = acc.addInfection(r)
	}
	return acc.report()
}

func perThousand(count, days int) float64 {
	if days <= 0 {
		return 0
	}
	return round2(float64(count) / float64(days) * 1000)
}

// round2 rounds half-up to two decimal places.
func round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
