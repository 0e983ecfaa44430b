package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/access"
	"github.com/MEKXH/warden/internal/audit"
	"github.com/MEKXH/warden/internal/isolation"
	"github.com/MEKXH/warden/internal/monitor"
	"github.com/MEKXH/warden/internal/oversight"
	"github.com/MEKXH/warden/internal/threat"
	"github.com/google/uuid"
)

// ResultStatus is the terminal state of an action.
type ResultStatus string

const (
	StatusCompleted ResultStatus = "completed"
	StatusFailed    ResultStatus = "failed"
	StatusBlocked   ResultStatus = "blocked"
	StatusError     ResultStatus = "error"
	StatusCancelled ResultStatus = "cancelled"
)

// SafetyChecks records what each stage of the pipeline decided.
type SafetyChecks struct {
	Threat           *threat.Analysis   `json:"prompt_protection,omitempty"`
	Protection       threat.Action      `json:"protection_action,omitempty"`
	SanitizedPayload string             `json:"sanitized_payload,omitempty"`
	Access           *access.Decision   `json:"access_control,omitempty"`
	Oversight        *oversight.Request `json:"human_oversight,omitempty"`
}

// ExecutionResult is returned for every action that reached a session. Expected
// denials are statuses, not errors.
type ExecutionResult struct {
	ActionID    string            `json:"action_id"`
	SessionID   string            `json:"session_id"`
	ActionType  string            `json:"action_type"`
	AgentType   string            `json:"agent_type"`
	Resource    string            `json:"resource"`
	Status      ResultStatus      `json:"status"`
	BlockReason string            `json:"block_reason,omitempty"`
	Error       string            `json:"error,omitempty"`
	Output      string            `json:"output,omitempty"`
	Execution   *isolation.Result `json:"execution,omitempty"`
	Checks      SafetyChecks      `json:"safety_checks"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
}

// ExecuteAction runs one action through the pipeline: payload screening, authorization,
// oversight, execution. Every path is logged. Only an unknown session or a malformed
// request is returned as an error.
func (s *System) ExecuteAction(ctx context.Context, sessionID, actionType string, actionData map[string]any, payload string) (ExecutionResult, error) {
	sess, ok := s.session(sessionID)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return ExecutionResult{}, fmt.Errorf("%w: action type is required", ErrInvalidRequest)
	}

	data := maps.Clone(actionData)
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = sess.ID
	resource := stringValue(data, "resource")
	if resource == "" {
		resource = s.cfg.DefaultResource
	}

	res := ExecutionResult{
		ActionID:   "action-" + uuid.NewString()[:8],
		SessionID:  sess.ID,
		ActionType: actionType,
		AgentType:  sess.AgentType,
		Resource:   resource,
		StartTime:  s.now().UTC(),
	}
	slog.Info("executing action", "session_id", sess.ID, "action_type", actionType, "resource", resource)

	s.runPipeline(ctx, sess, &res, data, payload)

	res.EndTime = s.now().UTC()
	s.logOutcome(sess, res)
	return res, nil
}

func (s *System) runPipeline(ctx context.Context, sess Session, res *ExecutionResult, data map[string]any, payload string) {
	if payload != "" {
		analysis := s.detector.Analyze(payload, data)
		res.Checks.Threat = &analysis
		res.Checks.Protection = threat.Protect(analysis)
		switch res.Checks.Protection {
		case threat.ActionBlock:
			s.recordBlockedPayload(sess, analysis)
			res.Status = StatusBlocked
			res.BlockReason = fmt.Sprintf("prompt blocked: threat level %s (risk score %.1f)", analysis.Level, analysis.RiskScore)
			return
		case threat.ActionSanitize:
			res.Checks.SanitizedPayload = threat.Sanitize(payload, analysis)
			data["prompt"] = res.Checks.SanitizedPayload
		default:
			data["prompt"] = payload
		}
	}

	decision := s.access.Authorize(sess.AgentType, res.ActionType, res.Resource, data)
	res.Checks.Access = &decision
	if !decision.Authorized {
		res.Status = StatusBlocked
		res.BlockReason = decision.Reason
		if decision.ViolatedPolicy != "" {
			res.BlockReason += ": " + decision.ViolatedPolicy
		}
		return
	}

	if s.oversight != nil && s.requiresOversight(res.ActionType, data) {
		req, err := s.oversight.RequestOversight(ctx, oversight.CreateInput{
			Type:        res.ActionType,
			AgentType:   sess.AgentType,
			Description: fmt.Sprintf("Execute %s action on %s", res.ActionType, res.Resource),
			Context:     data,
			Timeout:     s.cfg.OversightTimeout,
		})
		if err != nil {
			res.Status = StatusError
			res.Error = err.Error()
			return
		}
		if !req.Resolved() {
			decided, err := s.oversight.WaitForDecision(ctx, req.ID)
			if err != nil {
				res.Checks.Oversight = &req
				s.failFromContext(ctx, res, err)
				return
			}
			req = decided
		}
		res.Checks.Oversight = &req
		if !req.Approved() {
			res.Status = StatusBlocked
			res.BlockReason = fmt.Sprintf("human oversight: %s (%s)", req.Decision, req.DecisionReason)
			return
		}
	}

	s.execute(ctx, sess, res, data)
}

func (s *System) execute(ctx context.Context, sess Session, res *ExecutionResult, data map[string]any) {
	if s.isolation == nil || sess.Environment == nil {
		res.Status = StatusCompleted
		res.Output = "executed without isolation"
		return
	}

	command := stringValue(data, "command")
	if command == "" {
		command = "echo " + shellQuote("Executing "+res.ActionType+" action")
	}
	out, err := s.isolation.Execute(ctx, sess.Environment.ID, command, s.cfg.ExecutionTimeout)
	if err != nil {
		s.failFromContext(ctx, res, err)
		return
	}
	res.Execution = &out
	res.Output = out.Stdout
	switch {
	case out.Blocked:
		res.Status = StatusBlocked
		res.BlockReason = out.BlockReason
	case out.TimedOut:
		res.Status = StatusFailed
		res.Error = "execution timed out"
	case out.ExitCode != 0:
		res.Status = StatusFailed
		res.Error = fmt.Sprintf("exit code %d", out.ExitCode)
	default:
		res.Status = StatusCompleted
	}
}

func (s *System) failFromContext(ctx context.Context, res *ExecutionResult, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, ctxErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		res.Status = StatusCancelled
		res.Error = ctxErr.Error()
		return
	}
	res.Status = StatusError
	res.Error = err.Error()
}

func (s *System) requiresOversight(actionType string, data map[string]any) bool {
	if slices.Contains(s.cfg.OversightRequired, actionType) {
		return true
	}
	return oversight.Flag(data, oversight.FlagProductionData) || oversight.Flag(data, oversight.FlagElevatedPrivileges)
}

func (s *System) recordBlockedPayload(sess Session, analysis threat.Analysis) {
	s.monitor.LogEvent(monitor.EventPromptBlocked, sess.AgentType, sess.ID, map[string]any{
		"analysis_id":  analysis.ID,
		"threat_level": analysis.Level.String(),
		"risk_score":   analysis.RiskScore,
	}, monitor.SeverityWarning)
	if s.journal == nil {
		return
	}
	err := s.journal.Append(audit.StreamBlocked, audit.BlockedPayload{
		Timestamp:    analysis.Timestamp,
		ProtectionID: analysis.ID,
		AgentType:    sess.AgentType,
		ThreatLevel:  analysis.Level.String(),
		RiskScore:    analysis.RiskScore,
	})
	if err != nil {
		slog.Error("failed to record blocked payload", "session_id", sess.ID, "error", err)
	}
}

func (s *System) logOutcome(sess Session, res ExecutionResult) {
	data := map[string]any{
		"action_id":      res.ActionID,
		"action_type":    res.ActionType,
		"resource":       res.Resource,
		"status":         string(res.Status),
		"execution_time": res.EndTime.Sub(res.StartTime).Seconds(),
	}
	eventType := monitor.EventActionExecuted
	level := monitor.SeverityInfo
	switch res.Status {
	case StatusFailed:
		level = monitor.SeverityWarning
		data["error"] = res.Error
	case StatusBlocked:
		eventType = monitor.EventActionBlocked
		level = monitor.SeverityWarning
		data["block_reason"] = res.BlockReason
	case StatusError, StatusCancelled:
		eventType = monitor.EventActionExecutionFailed
		level = monitor.SeverityError
		data["error"] = res.Error
	}
	s.monitor.LogEvent(eventType, sess.AgentType, sess.ID, data, level)
	slog.Info("action finished", "session_id", sess.ID, "action_type", res.ActionType, "status", string(res.Status))
}

func stringValue(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return strings.TrimSpace(v)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
