package safety

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ActionRequest is what external callers submit.
type ActionRequest struct {
	AgentType  string         `json:"agent_type"`
	ActionType string         `json:"action_type"`
	Resource   string         `json:"resource,omitempty"`
	Payload    string         `json:"payload,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	// SessionID runs the action in an existing session. Empty uses a one-shot session.
	SessionID string `json:"session_id,omitempty"`
}

// Validate rejects malformed requests before any side effect.
func (r ActionRequest) Validate() error {
	if strings.TrimSpace(r.AgentType) == "" {
		return fmt.Errorf("%w: agent_type is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.ActionType) == "" {
		return fmt.Errorf("%w: action_type is required", ErrInvalidRequest)
	}
	return nil
}

// SubmitResult is the caller-facing decision.
type SubmitResult struct {
	Authorized      bool            `json:"authorized"`
	Blocked         bool            `json:"blocked"`
	Reason          string          `json:"reason,omitempty"`
	AppliedPolicies []string        `json:"applied_policies,omitempty"`
	Result          ExecutionResult `json:"result"`
}

// SubmitAction is the single entry point for external callers. Without a session id the
// action runs in a one-shot session that is cleaned up before returning.
func (s *System) SubmitAction(ctx context.Context, req ActionRequest) (SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return SubmitResult{}, err
	}
	data := maps.Clone(req.Context)
	if data == nil {
		data = map[string]any{}
	}
	if req.Resource != "" {
		data["resource"] = req.Resource
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID != "" {
		sess, ok := s.session(sessionID)
		if !ok {
			return SubmitResult{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		if !strings.EqualFold(sess.AgentType, strings.TrimSpace(req.AgentType)) {
			return SubmitResult{}, fmt.Errorf("%w: session %s belongs to agent %s", ErrInvalidRequest, sessionID, sess.AgentType)
		}
	} else {
		sess, decision, err := s.createSession(ctx, req.AgentType, "", req.Context)
		if err != nil {
			if errors.Is(err, ErrSessionDenied) {
				return SubmitResult{
					Blocked:         true,
					Reason:          decision.Reason,
					AppliedPolicies: decision.AppliedPolicies,
				}, nil
			}
			return SubmitResult{}, err
		}
		sessionID = sess.ID
		defer s.CleanupSession(context.WithoutCancel(ctx), sessionID)
	}

	res, err := s.ExecuteAction(ctx, sessionID, req.ActionType, data, req.Payload)
	if err != nil {
		return SubmitResult{}, err
	}
	return summarize(res), nil
}

func summarize(res ExecutionResult) SubmitResult {
	out := SubmitResult{
		Blocked: res.Status == StatusBlocked,
		Result:  res,
	}
	if res.Checks.Access != nil {
		out.Authorized = res.Checks.Access.Authorized
		out.AppliedPolicies = res.Checks.Access.AppliedPolicies
	}
	switch {
	case res.BlockReason != "":
		out.Reason = res.BlockReason
	case res.Error != "":
		out.Reason = res.Error
	}
	return out
}
