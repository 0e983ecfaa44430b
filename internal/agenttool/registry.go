package agenttool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MEKXH/warden/internal/safety"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ToolResource is the resource guarded tool calls are authorized against.
const ToolResource = "tools"

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrToolBlocked  = errors.New("tool call blocked")
)

type agentKey struct{}

// WithAgentType makes Execute screen calls on ctx as agentType instead of the
// registry default.
func WithAgentType(ctx context.Context, agentType string) context.Context {
	return context.WithValue(ctx, agentKey{}, strings.TrimSpace(agentType))
}

func agentFrom(ctx context.Context, fallback string) string {
	if a, _ := ctx.Value(agentKey{}).(string); a != "" {
		return a
	}
	return fallback
}

// RegisterOption adjusts how calls to one tool are screened.
type RegisterOption func(*entry)

// SkipPayloadScreening keeps the call's arguments out of threat analysis. Access control
// and oversight still apply. Used for tools whose input is text under analysis.
func SkipPayloadScreening() RegisterOption {
	return func(e *entry) { e.skipPayload = true }
}

type entry struct {
	tool        tool.InvokableTool
	info        *schema.ToolInfo
	skipPayload bool
}

// Registry holds agent tools and screens every call through the safety pipeline
// before the tool runs. The tool name is the action type and the JSON arguments are
// the screened payload.
type Registry struct {
	submitter Submitter
	agentType string

	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates a registry whose calls are submitted as agentType.
func NewRegistry(submitter Submitter, agentType string) *Registry {
	return &Registry{
		submitter: submitter,
		agentType: agentType,
		tools:     make(map[string]entry),
	}
}

// Register adds a tool to registry
func (r *Registry) Register(t tool.InvokableTool, opts ...RegisterOption) error {
	info, err := t.Info(context.Background())
	if err != nil {
		return err
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}

	e := entry{tool: t, info: info}
	for _, opt := range opts {
		opt(&e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool already registered: %s", info.Name)
	}
	r.tools[info.Name] = e
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos returns tool descriptions in name order.
func (r *Registry) Infos(_ context.Context) ([]*schema.ToolInfo, error) {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		if e, ok := r.tools[name]; ok {
			infos = append(infos, e.info)
		}
	}
	return infos, nil
}

// Execute submits the call and runs the tool only when the pipeline lets it through.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string, opts ...tool.Option) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	req := safety.ActionRequest{
		AgentType:  agentFrom(ctx, r.agentType),
		ActionType: name,
		Resource:   ToolResource,
		Payload:    argsJSON,
		Context:    map[string]any{"tool": name},
	}
	if e.skipPayload {
		req.Payload = ""
	}
	out, err := r.submitter.SubmitAction(ctx, req)
	if err != nil {
		return "", fmt.Errorf("screen tool %s: %w", name, err)
	}
	if out.Blocked || !out.Authorized || out.Result.Status != safety.StatusCompleted {
		reason := out.Reason
		if reason == "" {
			reason = string(out.Result.Status)
		}
		return "", fmt.Errorf("%w: %s: %s", ErrToolBlocked, name, reason)
	}
	return e.tool.InvokableRun(ctx, argsJSON, opts...)
}
