package safety

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/access"
	"github.com/MEKXH/warden/internal/isolation"
	"github.com/MEKXH/warden/internal/monitor"
	"github.com/google/uuid"
)

// Session is an authorized execution context for one agent.
type Session struct {
	ID            string                    `json:"session_id"`
	AgentType     string                    `json:"agent_type"`
	SecurityLevel isolation.SecurityLevel   `json:"security_level"`
	CreatedAt     time.Time                 `json:"created_at"`
	Environment   *isolation.Environment    `json:"environment,omitempty"`
	Permission    access.ResourcePermission `json:"permission"`
	UserContext   map[string]any            `json:"user_context,omitempty"`
}

func (s *Session) clone() Session {
	out := *s
	out.UserContext = maps.Clone(s.UserContext)
	if s.Environment != nil {
		env := *s.Environment
		out.Environment = &env
	}
	return out
}

// CreateSession authorizes agentType to create an environment and registers the session.
// An empty sessionID gets a generated one. A denial wraps ErrSessionDenied.
func (s *System) CreateSession(ctx context.Context, agentType, sessionID string, userContext map[string]any) (Session, error) {
	sess, _, err := s.createSession(ctx, agentType, sessionID, userContext)
	return sess, err
}

func (s *System) createSession(ctx context.Context, agentType, sessionID string, userContext map[string]any) (Session, access.Decision, error) {
	agentType = strings.TrimSpace(agentType)
	if agentType == "" {
		return Session{}, access.Decision{}, fmt.Errorf("%w: agent type is required", ErrInvalidRequest)
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = "session-" + uuid.NewString()[:8]
	}

	s.mu.Lock()
	_, exists := s.sessions[sessionID]
	s.mu.Unlock()
	if exists {
		return Session{}, access.Decision{}, fmt.Errorf("%w: session %s already exists", ErrInvalidRequest, sessionID)
	}

	slog.Info("creating session", "session_id", sessionID, "agent_type", agentType)
	sess := &Session{
		ID:            sessionID,
		AgentType:     agentType,
		SecurityLevel: s.cfg.SecurityLevel,
		CreatedAt:     s.now().UTC(),
		UserContext:   maps.Clone(userContext),
	}

	if s.isolation != nil {
		env, err := s.isolation.CreateEnvironment(ctx, agentType, s.cfg.SecurityLevel)
		if err != nil {
			s.sessionFailed(agentType, sessionID, err)
			return Session{}, access.Decision{}, fmt.Errorf("create isolated environment: %w", err)
		}
		sess.Environment = &env
	}

	authCtx := maps.Clone(userContext)
	if authCtx == nil {
		authCtx = map[string]any{}
	}
	authCtx["session_id"] = sessionID
	decision := s.access.Authorize(agentType, "create_environment", s.cfg.DefaultResource, authCtx)
	if !decision.Authorized {
		s.destroyEnvironment(ctx, sess)
		err := fmt.Errorf("%w: %s", ErrSessionDenied, decision.Reason)
		s.sessionFailed(agentType, sessionID, err)
		return Session{}, decision, err
	}
	sess.Permission = decision.Permission

	s.mu.Lock()
	if _, exists := s.sessions[sessionID]; exists {
		s.mu.Unlock()
		s.destroyEnvironment(ctx, sess)
		return Session{}, decision, fmt.Errorf("%w: session %s already exists", ErrInvalidRequest, sessionID)
	}
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	data := map[string]any{"security_level": string(sess.SecurityLevel)}
	if sess.Environment != nil {
		data["environment_id"] = sess.Environment.ID
	}
	s.monitor.LogEvent(monitor.EventEnvironmentCreated, agentType, sessionID, data, monitor.SeverityInfo)
	slog.Info("session created", "session_id", sessionID, "agent_type", agentType)
	return sess.clone(), decision, nil
}

func (s *System) sessionFailed(agentType, sessionID string, err error) {
	slog.Error("failed to create session", "session_id", sessionID, "error", err)
	s.monitor.LogEvent(monitor.EventEnvironmentCreationFailed, agentType, sessionID,
		map[string]any{"error": err.Error()}, monitor.SeverityError)
}

func (s *System) destroyEnvironment(ctx context.Context, sess *Session) {
	if s.isolation == nil || sess.Environment == nil {
		return
	}
	if err := s.isolation.Destroy(ctx, sess.Environment.ID); err != nil {
		slog.Warn("failed to destroy environment", "session_id", sess.ID, "environment_id", sess.Environment.ID, "error", err)
	}
}

// CleanupSession releases the session's environment and forgets it. Unknown sessions
// are logged and ignored.
func (s *System) CleanupSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		slog.Warn("session not found for cleanup", "session_id", sessionID)
		return
	}

	s.destroyEnvironment(ctx, sess)
	s.monitor.LogEvent(monitor.EventSessionCleanup, sess.AgentType, sessionID,
		map[string]any{"cleanup_time": s.now().UTC().Format(time.RFC3339)}, monitor.SeverityInfo)
	slog.Info("session cleaned up", "session_id", sessionID)
}

func (s *System) session(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}
