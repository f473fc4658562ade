// Package alerts evaluates threshold rules against computed infection rates.
// Rules live in a YAML file that is reloaded when it changes on disk.
package alerts

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AnyWard makes a rule apply to every bucket.
const AnyWard = "*"

// Rule is one threshold check, e.g. {ward: icu, condition: "vap > 5"}.
type Rule struct {
	Name           string `yaml:"name" json:"name"`
	Ward           string `yaml:"ward" json:"ward"`
	Condition      string `yaml:"condition" json:"condition"`
	Severity       string `yaml:"severity" json:"severity"`
	MinPatientDays int    `yaml:"min_patient_days" json:"min_patient_days,omitempty"`

	cond condition
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

type condition struct {
	metric    string
	op        string
	threshold float64
}

// parseCondition accepts "metric op value" with op one of > >= < <= ==.
func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"metric op value\"", s)
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, parts[1])
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: threshold is not a number", s)
	}
	return condition{metric: parts[0], op: parts[1], threshold: v}, nil
}

func (c condition) eval(v float64) bool {
	switch c.op {
	case ">":
		return v > c.threshold
	case ">=":
		return v >= c.threshold
	case "<":
		return v < c.threshold
	case "<=":
		return v <= c.threshold
	case "==":
		return v == c.threshold
	}
	return false
}

// ParseRules decodes and validates a rule document.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alert rules: %w", err)
	}
	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %q: duplicate name", r.Name)
		}
		seen[r.Name] = true
		if r.Ward == "" {
			r.Ward = AnyWard
		}
		switch r.Severity {
		case "":
			r.Severity = SeverityWarning
		case SeverityInfo, SeverityWarning, SeverityCritical:
		default:
			return nil, fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
		}
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		r.cond = c
	}
	return f.Rules, nil
}

// LoadRules reads a rule file from disk.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert rules: %w", err)
	}
	return ParseRules(data)
}
