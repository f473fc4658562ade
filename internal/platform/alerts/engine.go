package alerts

import (
	"fmt"
	"sort"
	"sync"
)

// Alert is a rule that fired for one ward.
type Alert struct {
	Rule      string  `json:"rule"`
	Ward      string  `json:"ward"`
	Metric    string  `json:"metric"`
	Severity  string  `json:"severity"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// Engine holds the active rule set. It is safe for concurrent use and the rule
// set may be swapped while evaluations run.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate checks every rule against metrics (ward -> metric -> value). Wards
// whose patient_days fall below a rule's MinPatientDays are skipped for that
// rule. Alerts are ordered by ward then rule order.
func (e *Engine) Evaluate(metrics map[string]map[string]float64) []Alert {
	rules := e.Rules()
	if len(rules) == 0 {
		return nil
	}

	wards := make([]string, 0, len(metrics))
	for w := range metrics {
		wards = append(wards, w)
	}
	sort.Strings(wards)

	var out []Alert
	for _, ward := range wards {
		values := metrics[ward]
		for _, r := range rules {
			if r.Ward != AnyWard && r.Ward != ward {
				continue
			}
			if r.MinPatientDays > 0 && values["patient_days"] < float64(r.MinPatientDays) {
				continue
			}
			v, ok := values[r.cond.metric]
			if !ok || !r.cond.eval(v) {
				continue
			}
			out = append(out, Alert{
				Rule:      r.Name,
				Ward:      ward,
				Metric:    r.cond.metric,
				Severity:  r.Severity,
				Value:     v,
				Threshold: r.cond.threshold,
				Message:   fmt.Sprintf("%s %s rate %.2f %s %.2f", ward, r.cond.metric, v, r.cond.op, r.cond.threshold),
			})
		}
	}
	return out
}
