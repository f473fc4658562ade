package audit

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Audit kinds.
const (
	KindHandHygiene   = "hand_hygiene"
	KindEnvironmental = "environmental"
	KindCareBundle    = "care_bundle"
)

var Kinds = []string{KindHandHygiene, KindEnvironmental, KindCareBundle}

// Care bundles, only valid on care_bundle audits.
var Bundles = []string{"VAP", "CLABSI", "CAUTI", "SSI"}

// Item is a single observation. Category groups items within an audit, for
// example the WHO moment for hand hygiene.
type Item struct {
	Label     string `json:"label"`
	Category  string `json:"category,omitempty"`
	Compliant bool   `json:"compliant"`
}

type Audit struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Kind       string    `db:"kind" json:"kind"`
	Area       string    `db:"area" json:"area"`
	AuditDate  string    `db:"audit_date" json:"audit_date"`
	Auditor    string    `db:"auditor" json:"auditor"`
	Bundle     *string   `db:"bundle" json:"bundle,omitempty"`
	Items      []Item    `db:"items" json:"items"`
	Score      float64   `db:"score" json:"score"`
	Notes      *string   `db:"notes" json:"notes,omitempty"`
	RecordedBy string    `db:"recorded_by" json:"recorded_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Score returns the percentage of compliant items to one decimal place, or 0
// when there are none.
func Score(items []Item) float64 {
	compliant := 0
	for _, it := range items {
		if it.Compliant {
			compliant++
		}
	}
	return percent(compliant, len(items))
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Floor(float64(n)/float64(total)*1000+0.5) / 10
}

// ComplianceSummary aggregates the audits of one kind in one area.
type ComplianceSummary struct {
	Kind         string  `json:"kind"`
	Area         string  `json:"area"`
	Audits       int     `json:"audits"`
	Observations int     `json:"observations"`
	Compliant    int     `json:"compliant"`
	Compliance   float64 `json:"compliance"`
}

// Summarize groups audits by kind and area, pooling their observations.
func Summarize(audits []*Audit) []ComplianceSummary {
	type key struct{ kind, area string }
	groups := map[key]*ComplianceSummary{}
	for _, a := range audits {
		k := key{a.Kind, a.Area}
		s, ok := groups[k]
		if !ok {
			s = &ComplianceSummary{Kind: a.Kind, Area: a.Area}
			groups[k] = s
		}
		s.Audits++
		s.Observations += len(a.Items)
		for _, it := range a.Items {
			if it.Compliant {
				s.Compliant++
			}
		}
	}
	out := make([]ComplianceSummary, 0, len(groups))
	for _, s := range groups {
		s.Compliance = percent(s.Compliant, s.Observations)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Area < out[j].Area
	})
	return out
}
