package oversight

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel is computed once when a request is created.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = [...]string{"low", "medium", "high", "critical"}

func (r RiskLevel) String() string {
	if r < RiskLow || r > RiskCritical {
		return fmt.Sprintf("risk(%d)", int(r))
	}
	return riskNames[r]
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RiskLevel) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range riskNames {
		if n == name {
			*r = RiskLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", string(text))
}

// Decision is the outcome of a request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionModify   Decision = "modify"
	DecisionEscalate Decision = "escalate"
)

// ParseDecision accepts a terminal decision name.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected", "deny":
		return DecisionReject, nil
	case "modify", "modified":
		return DecisionModify, nil
	case "escalate", "escalated":
		return DecisionEscalate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}

// Reasons recorded by the protocol itself.
const (
	ReasonAutoApproved    = "auto-approved: low risk"
	ReasonTimeoutRejected = "timed out — rejected for safety"
	ReasonTimeoutApproved = "timed out — auto-approved"

	SystemDecider = "system"
)

// Request is a human-in-the-loop ask. Once Decision leaves pending it is never changed.
type Request struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	AgentType      string         `json:"agent_type"`
	Description    string         `json:"description"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	RiskScore      int            `json:"risk_score"`
	Context        map[string]any `json:"context,omitempty"`
	Timeout        time.Duration  `json:"timeout"`
	CreatedAt      time.Time      `json:"created_at"`
	Decision       Decision       `json:"decision"`
	DecisionReason string         `json:"decision_reason,omitempty"`
	DecidedBy      string         `json:"decided_by,omitempty"`
	DecidedAt      time.Time      `json:"decided_at,omitempty"`
	TimedOut       bool           `json:"timed_out,omitempty"`
	Modifications  map[string]any `json:"modifications,omitempty"`
}

// Deadline is when the request times out.
func (r Request) Deadline() time.Time {
	return r.CreatedAt.Add(r.Timeout)
}

// Resolved reports whether the request has a terminal decision.
func (r Request) Resolved() bool {
	return r.Decision != "" && r.Decision != DecisionPending
}

// Approved reports whether the request may proceed.
func (r Request) Approved() bool {
	return r.Decision == DecisionApprove
}

// CreateInput describes a new request.
type CreateInput struct {
	Type        string
	AgentType   string
	Description string
	Context     map[string]any
	Timeout     time.Duration
}

// DecisionInput carries the human side of a decision.
type DecisionInput struct {
	Reason        string
	DecidedBy     string
	Modifications map[string]any
}
