package monitor

import (
	"slices"
	"time"
)

// Predicate decides whether an event triggers an alert.
type Predicate interface {
	Matches(ev Event) bool
}

// SeverityAtLeast matches events at or above Min.
type SeverityAtLeast struct {
	Min Severity
}

func (p SeverityAtLeast) Matches(ev Event) bool {
	return ev.Level >= p.Min
}

// CategoryIn matches events whose category is one of Categories.
type CategoryIn struct {
	Categories []Category
}

func (p CategoryIn) Matches(ev Event) bool {
	return slices.Contains(p.Categories, ev.Category)
}

// NumericAbove matches events of Category whose Data[Field] is a number above Threshold.
type NumericAbove struct {
	Category  Category
	Field     string
	Threshold float64
}

func (p NumericAbove) Matches(ev Event) bool {
	if p.Category != "" && ev.Category != p.Category {
		return false
	}
	v, ok := toFloat(ev.Data[p.Field])
	return ok && v > p.Threshold
}

// AlertRule pairs an alert type with its predicate.
type AlertRule struct {
	Type      string
	Predicate Predicate
}

// Alert types raised by DefaultRules.
const (
	AlertCriticalEvent    = "critical_event"
	AlertSecurityEvent    = "security_event"
	AlertPerformanceIssue = "performance_issue"
)

// DefaultRules returns the stock rule table in evaluation order.
func DefaultRules(slowExecution time.Duration) []AlertRule {
	if slowExecution <= 0 {
		slowExecution = 5 * time.Minute
	}
	return []AlertRule{
		{Type: AlertCriticalEvent, Predicate: SeverityAtLeast{Min: SeverityCritical}},
		{Type: AlertSecurityEvent, Predicate: CategoryIn{Categories: []Category{CategorySecurity}}},
		{Type: AlertPerformanceIssue, Predicate: NumericAbove{
			Category:  CategoryPerformance,
			Field:     "execution_time",
			Threshold: slowExecution.Seconds(),
		}},
	}
}

// Evaluate returns the alert types ev triggers, in rule order.
func Evaluate(rules []AlertRule, ev Event) []string {
	var out []string
	for _, r := range rules {
		if r.Predicate != nil && r.Predicate.Matches(ev) {
			out = append(out, r.Type)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case time.Duration:
		return n.Seconds(), true
	default:
		return 0, false
	}
}
