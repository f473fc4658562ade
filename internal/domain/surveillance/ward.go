package surveillance

import "strings"

// Ward identifies a rate bucket.
type Ward int

const (
	WardOverall Ward = iota
	WardICU
	WardPICU
	WardNICU
	WardMedicine
	WardCohort
)

// Wards lists the named ward buckets in report order.
var Wards = []Ward{WardICU, WardPICU, WardNICU, WardMedicine, WardCohort}

// AllBuckets is Overall followed by Wards.
var AllBuckets = append([]Ward{WardOverall}, Wards...)

var wardNames = map[Ward]string{
	WardOverall:  "overall",
	WardICU:      "icu",
	WardPICU:     "picu",
	WardNICU:     "nicu",
	WardMedicine: "medicine",
	WardCohort:   "cohort",
}

func (w Ward) String() string {
	if n, ok := wardNames[w]; ok {
		return n
	}
	return "unknown"
}

// ParseWard maps a report key back to its Ward.
func ParseWard(s string) (Ward, bool) {
	for w, n := range wardNames {
		if n == s {
			return w, true
		}
	}
	return WardOverall, false
}

type wardRule struct {
	ward  Ward
	match func(area string) bool
}

// wardRules are evaluated in order against the lower-cased area; the first
// match wins. Note that "picu" satisfies the first rule.
var wardRules = []wardRule{
	{WardICU, func(a string) bool {
		return strings.Contains(a, "icu") && !strings.Contains(a, "pedia") && !strings.Contains(a, "nicu")
	}},
	{WardPICU, func(a string) bool {
		return strings.Contains(a, "picu") || strings.Contains(a, "pedia icu")
	}},
	{WardNICU, func(a string) bool { return strings.Contains(a, "nicu") }},
	{WardMedicine, func(a string) bool { return strings.Contains(a, "medicine") }},
	{WardCohort, func(a string) bool { return strings.Contains(a, "cohort") }},
}

// ClassifyArea maps a free-text ward name onto a ward bucket. It returns false
// when no rule matches; such cases only count toward the overall bucket.
func ClassifyArea(area string) (Ward, bool) {
	a := strings.ToLower(area)
	for _, r := range wardRules {
		if r.match(a) {
			return r.ward, true
		}
	}
	return WardOverall, false
}
