package census

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ipc/ipc/internal/domain/surveillance"
)

// DailyCensus is one day's patient census and device-days, facility-wide and
// per ward. There is at most one per date.
type DailyCensus struct {
	ID       uuid.UUID
	Date     string
	Overall  surveillance.WardCensus
	ICU      surveillance.WardCensus
	NICU     surveillance.WardCensus
	PICU     surveillance.WardCensus
	Medicine surveillance.WardCensus
	Cohort   surveillance.WardCensus

	Notes      *string
	RecordedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// wardField maps a census block onto its flat wire names: the patient count
// under patients, and device-days under prefix_vent, prefix_ifc and
// prefix_central.
type wardField struct {
	patients string
	prefix   string
	block    func(c *DailyCensus) *surveillance.WardCensus
}

var wardFields = []wardField{
	{"overall", "overall", func(c *DailyCensus) *surveillance.WardCensus { return &c.Overall }},
	{"icu", "icu", func(c *DailyCensus) *surveillance.WardCensus { return &c.ICU }},
	{"nicu", "nicu", func(c *DailyCensus) *surveillance.WardCensus { return &c.NICU }},
	{"picu", "picu", func(c *DailyCensus) *surveillance.WardCensus { return &c.PICU }},
	{"medicine", "med", func(c *DailyCensus) *surveillance.WardCensus { return &c.Medicine }},
	{"cohort", "cohort", func(c *DailyCensus) *surveillance.WardCensus { return &c.Cohort }},
}

func (c DailyCensus) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"date":        c.Date,
		"recorded_by": c.RecordedBy,
	}
	if c.ID != uuid.Nil {
		m["id"] = c.ID
	}
	if c.Notes != nil {
		m["notes"] = *c.Notes
	}
	if !c.CreatedAt.IsZero() {
		m["created_at"] = c.CreatedAt
		m["updated_at"] = c.UpdatedAt
	}
	for _, f := range wardFields {
		w := f.block(&c)
		m[f.patients] = w.Patients
		m[f.prefix+"_vent"] = w.Vent
		m[f.prefix+"_ifc"] = w.IFC
		m[f.prefix+"_central"] = w.Central
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the flat wire form. Count fields are coerced: numbers
// and numeric strings are truncated to integers, anything blank, negative or
// non-numeric becomes 0.
func (c *DailyCensus) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["date"]; ok {
		if err := json.Unmarshal(v, &c.Date); err != nil {
			return err
		}
	}
	if v, ok := raw["notes"]; ok && string(v) != "null" {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		c.Notes = &s
	}
	for _, f := range wardFields {
		w := f.block(c)
		w.Patients = Coerce(raw[f.patients])
		w.Vent = Coerce(raw[f.prefix+"_vent"])
		w.IFC = Coerce(raw[f.prefix+"_ifc"])
		w.Central = Coerce(raw[f.prefix+"_central"])
	}
	return nil
}

// Coerce turns a raw JSON value into a non-negative count.
func Coerce(raw json.RawMessage) int {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0
		}
		s = strings.TrimSpace(str)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

// Log converts the record into calculator input.
func (c *DailyCensus) Log() surveillance.CensusLog {
	return surveillance.CensusLog{
		Date:     c.Date,
		Overall:  c.Overall,
		ICU:      c.ICU,
		NICU:     c.NICU,
		PICU:     c.PICU,
		Medicine: c.Medicine,
		Cohort:   c.Cohort,
	}
}
