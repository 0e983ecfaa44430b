package isolation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const waitDelay = 2 * time.Second

var (
	ErrEnvironmentNotFound = errors.New("isolation environment not found")
	ErrEmptyCommand        = errors.New("command is required")
)

// Environment is an isolated workspace handed to one session.
type Environment struct {
	ID            string        `json:"environment_id"`
	AgentType     string        `json:"agent_type"`
	SecurityLevel SecurityLevel `json:"security_level"`
	WorkspacePath string        `json:"workspace_path"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Result is the outcome of one command. Blocked commands never start.
type Result struct {
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Blocked     bool          `json:"blocked,omitempty"`
	BlockReason string        `json:"block_reason,omitempty"`
}

// Provider creates environments and runs commands inside them.
type Provider interface {
	CreateEnvironment(ctx context.Context, agentType string, level SecurityLevel) (Environment, error)
	Execute(ctx context.Context, envID, command string, timeout time.Duration) (Result, error)
	Destroy(ctx context.Context, envID string) error
}

type localEnv struct {
	env    Environment
	policy compiledPolicy
}

// LocalProvider gives every environment its own directory under root and runs commands
// with the host shell.
type LocalProvider struct {
	root     string
	policies map[SecurityLevel]compiledPolicy
	now      func() time.Time

	mu   sync.Mutex
	envs map[string]*localEnv
}

// NewLocalProvider creates a provider rooted at root. Missing levels in policies fall
// back to DefaultPolicies.
func NewLocalProvider(root string, policies map[SecurityLevel]Policy) *LocalProvider {
	merged := DefaultPolicies()
	for level, p := range policies {
		merged[level] = p
	}
	compiled := make(map[SecurityLevel]compiledPolicy, len(merged))
	for level, p := range merged {
		compiled[level] = compilePolicy(p)
	}
	return &LocalProvider{
		root:     root,
		policies: compiled,
		now:      time.Now,
		envs:     make(map[string]*localEnv),
	}
}

// CreateEnvironment makes a fresh workspace directory.
func (p *LocalProvider) CreateEnvironment(_ context.Context, agentType string, level SecurityLevel) (Environment, error) {
	level, err := ParseSecurityLevel(string(level))
	if err != nil {
		return Environment{}, err
	}
	policy, ok := p.policies[level]
	if !ok {
		return Environment{}, fmt.Errorf("no policy for security level %q", level)
	}

	id := fmt.Sprintf("env_%s_%s", sanitizeName(agentType), uuid.NewString()[:8])
	path := filepath.Join(p.root, id)
	if err := os.MkdirAll(path, 0755); err != nil {
		return Environment{}, fmt.Errorf("create environment workspace: %w", err)
	}

	env := Environment{
		ID:            id,
		AgentType:     agentType,
		SecurityLevel: level,
		WorkspacePath: path,
		CreatedAt:     p.now().UTC(),
	}
	p.mu.Lock()
	p.envs[id] = &localEnv{env: env, policy: policy}
	p.mu.Unlock()

	slog.Info("isolated environment created", "environment_id", id, "security_level", string(level))
	return env, nil
}

// Execute runs command in the environment. timeout is capped by the level's maximum
// execution time; zero means the maximum.
func (p *LocalProvider) Execute(ctx context.Context, envID, command string, timeout time.Duration) (Result, error) {
	p.mu.Lock()
	le, ok := p.envs[envID]
	p.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, envID)
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, ErrEmptyCommand
	}
	if reason := le.policy.check(command); reason != "" {
		slog.Warn("command refused", "environment_id", envID, "reason", reason)
		return Result{ExitCode: 1, Blocked: true, BlockReason: reason, Stderr: reason}, nil
	}

	if timeout <= 0 || (le.policy.maxExecution > 0 && timeout > le.policy.maxExecution) {
		timeout = le.policy.maxExecution
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(runCtx, "sh", "-c", command)
	}
	cmd.Dir = le.env.WorkspacePath
	cmd.WaitDelay = waitDelay

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := p.now()
	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: p.now().Sub(started),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

// Destroy removes the environment and its workspace.
func (p *LocalProvider) Destroy(_ context.Context, envID string) error {
	p.mu.Lock()
	le, ok := p.envs[envID]
	delete(p.envs, envID)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrEnvironmentNotFound, envID)
	}
	if err := os.RemoveAll(le.env.WorkspacePath); err != nil {
		return fmt.Errorf("remove environment workspace: %w", err)
	}
	slog.Info("isolated environment destroyed", "environment_id", envID)
	return nil
}

// Environments lists live environments, oldest first.
func (p *LocalProvider) Environments() []Environment {
	p.mu.Lock()
	out := make([]Environment, 0, len(p.envs))
	for _, le := range p.envs {
		out = append(out, le.env)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func sanitizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "agent"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
