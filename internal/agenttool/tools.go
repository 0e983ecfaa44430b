package agenttool

import (
	"context"

	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/threat"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

// Submitter runs actions through the safety pipeline. *safety.System satisfies it.
type Submitter interface {
	SubmitAction(ctx context.Context, req safety.ActionRequest) (safety.SubmitResult, error)
}

// Analyzer scores free text. *threat.Detector satisfies it.
type Analyzer interface {
	Analyze(text string, ctx map[string]any) threat.Analysis
}

// SubmitActionInput parameters for submit_action tool
type SubmitActionInput struct {
	AgentType  string         `json:"agent_type" jsonschema:"required,description=Identity of the agent performing the action"`
	ActionType string         `json:"action_type" jsonschema:"required,description=Kind of action such as read or data_deletion"`
	Resource   string         `json:"resource" jsonschema:"description=Target resource; defaults to qa_system"`
	Payload    string         `json:"payload" jsonschema:"description=Free text to screen for prompt injection"`
	Context    map[string]any `json:"context" jsonschema:"description=Context flags such as modifies_production_data"`
	SessionID  string         `json:"session_id" jsonschema:"description=Existing session to run in"`
}

// SubmitActionOutput result of submit_action tool
type SubmitActionOutput struct {
	Authorized         bool     `json:"authorized"`
	Blocked            bool     `json:"blocked"`
	Status             string   `json:"status"`
	Reason             string   `json:"reason,omitempty"`
	AppliedPolicies    []string `json:"applied_policies,omitempty"`
	ActionID           string   `json:"action_id,omitempty"`
	OversightRequestID string   `json:"oversight_request_id,omitempty"`
	SanitizedPayload   string   `json:"sanitized_payload,omitempty"`
}

type submitToolImpl struct {
	submitter Submitter
}

func (s *submitToolImpl) execute(ctx context.Context, input *SubmitActionInput) (*SubmitActionOutput, error) {
	out, err := s.submitter.SubmitAction(ctx, safety.ActionRequest{
		AgentType:  input.AgentType,
		ActionType: input.ActionType,
		Resource:   input.Resource,
		Payload:    input.Payload,
		Context:    input.Context,
		SessionID:  input.SessionID,
	})
	if err != nil {
		return nil, err
	}
	result := &SubmitActionOutput{
		Authorized:       out.Authorized,
		Blocked:          out.Blocked,
		Status:           string(out.Result.Status),
		Reason:           out.Reason,
		AppliedPolicies:  out.AppliedPolicies,
		ActionID:         out.Result.ActionID,
		SanitizedPayload: out.Result.Checks.SanitizedPayload,
	}
	if out.Result.Status == "" {
		result.Status = string(safety.StatusBlocked)
	}
	if req := out.Result.Checks.Oversight; req != nil {
		result.OversightRequestID = req.ID
	}
	return result, nil
}

// NewSubmitActionTool creates the submit_action tool
func NewSubmitActionTool(submitter Submitter) (tool.InvokableTool, error) {
	impl := &submitToolImpl{submitter: submitter}
	return utils.InferTool("submit_action", "Submit an action for safety screening, authorization and human oversight before it runs", impl.execute)
}

// AnalyzePromptInput parameters for analyze_prompt tool
type AnalyzePromptInput struct {
	Text string `json:"text" jsonschema:"required,description=Text to analyze for prompt injection"`
}

// AnalyzePromptOutput result of analyze_prompt tool
type AnalyzePromptOutput struct {
	ThreatLevel     string   `json:"threat_level"`
	RiskScore       float64  `json:"risk_score"`
	SafeToExecute   bool     `json:"safe_to_execute"`
	Categories      []string `json:"categories,omitempty"`
	Recommendations []string `json:"recommendations"`
}

type analyzeToolImpl struct {
	analyzer Analyzer
}

func (a *analyzeToolImpl) execute(_ context.Context, input *AnalyzePromptInput) (*AnalyzePromptOutput, error) {
	analysis := a.analyzer.Analyze(input.Text, nil)
	out := &AnalyzePromptOutput{
		ThreatLevel:     analysis.Level.String(),
		RiskScore:       analysis.RiskScore,
		SafeToExecute:   analysis.SafeToExecute,
		Recommendations: analysis.Recommendations,
	}
	for _, d := range analysis.Detections {
		out.Categories = append(out.Categories, string(d.Category))
	}
	return out, nil
}

// NewAnalyzePromptTool creates the analyze_prompt tool
func NewAnalyzePromptTool(analyzer Analyzer) (tool.InvokableTool, error) {
	impl := &analyzeToolImpl{analyzer: analyzer}
	return utils.InferTool("analyze_prompt", "Score text for prompt injection and return the threat level", impl.execute)
}
