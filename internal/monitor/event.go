package monitor

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the ordered event level.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

func (s Severity) String() string {
	if s < SeverityDebug || s > SeverityCritical {
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, n := range severityNames {
		if n == name {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", string(text))
}

// Category groups event types for alert evaluation.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategorySecurity    Category = "security"
	CategoryAccess      Category = "access"
	CategoryPerformance Category = "performance"
	CategoryOversight   Category = "oversight"
	CategorySession     Category = "session"
	CategoryAction      Category = "action"
)

// Event types emitted by the safety components.
const (
	EventAuthorizationGranted      = "authorization_granted"
	EventAuthorizationDenied       = "authorization_denied"
	EventAuthentication            = "authentication"
	EventSecurityViolation         = "security_violation"
	EventPromptBlocked             = "prompt_blocked"
	EventEnvironmentCreated        = "environment_created"
	EventEnvironmentCreationFailed = "environment_creation_failed"
	EventSessionCleanup            = "session_cleanup"
	EventActionExecuted            = "action_executed"
	EventActionBlocked             = "action_blocked"
	EventActionExecutionFailed     = "action_execution_failed"
	EventOversightRequested        = "oversight_requested"
	EventOversightDecided          = "oversight_decided"
	EventPerformanceSample         = "performance_sample"
	EventPolicyChanged             = "policy_changed"
)

var eventCategories = map[string]Category{
	EventAuthorizationGranted:      CategoryAccess,
	EventAuthorizationDenied:       CategoryAccess,
	EventAuthentication:            CategoryAccess,
	EventSecurityViolation:         CategorySecurity,
	EventPromptBlocked:             CategorySecurity,
	EventEnvironmentCreated:        CategorySession,
	EventEnvironmentCreationFailed: CategorySession,
	EventSessionCleanup:            CategorySession,
	EventActionExecuted:            CategoryAction,
	EventActionBlocked:             CategoryAction,
	EventActionExecutionFailed:     CategoryAction,
	EventOversightRequested:        CategoryOversight,
	EventOversightDecided:          CategoryOversight,
	EventPerformanceSample:         CategoryPerformance,
	EventPolicyChanged:             CategoryAccess,
}

// CategoryOf returns the category registered for eventType. Unregistered types from
// external producers fall back to their security/performance prefix family, then general.
func CategoryOf(eventType string) Category {
	if c, ok := eventCategories[eventType]; ok {
		return c
	}
	lower := strings.ToLower(eventType)
	switch {
	case strings.Contains(lower, "security"):
		return CategorySecurity
	case strings.Contains(lower, "performance"):
		return CategoryPerformance
	}
	return CategoryGeneral
}

// Event is one audit record. Its JSON form is the persisted per-session log line.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	AgentType string         `json:"agent_type"`
	SessionID string         `json:"session_id"`
	Level     Severity       `json:"level"`
	Data      map[string]any `json:"data"`

	Category Category `json:"-"`
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const AlertActive AlertStatus = "active"

// Alert is raised when an event matches an alert rule.
type Alert struct {
	ID        string      `json:"alert_id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      string      `json:"type"`
	Event     Event       `json:"log_entry"`
	Status    AlertStatus `json:"status"`
}
