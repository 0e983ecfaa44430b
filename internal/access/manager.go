package access

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/warden/internal/monitor"
	"github.com/google/uuid"
)

const (
	defaultSessionTimeout    = 8 * time.Hour
	defaultMaxFailedAttempts = 3
	defaultLockoutDuration   = 30 * time.Minute
)

// EventLogger receives audit events. *monitor.Monitor satisfies it.
type EventLogger interface {
	LogEvent(eventType, agentType, sessionID string, data map[string]any, level monitor.Severity) monitor.Event
}

// Config controls sessions and lockout.
type Config struct {
	SessionTimeout    time.Duration
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	// TokenSecret enables signed session tokens when non-empty.
	TokenSecret string
	// DefaultAgents seeds permissions for agents the store does not know yet.
	DefaultAgents map[string]Permissions
	// DefaultUsers seeds permissions for users the store does not know yet.
	DefaultUsers map[string]Permissions
	// Policies are registered at startup unless a stored policy has the same name.
	Policies []PolicyInput
}

// Manager authorizes agent actions and authenticates users. All state is owned by the
// instance and guarded by one mutex.
type Manager struct {
	cfg         Config
	store       *Store
	credentials CredentialValidator
	events      EventLogger
	now         func() time.Time

	mu       sync.Mutex
	agents   map[string]Permissions
	users    map[string]Permissions
	policies map[string]Policy
	failures *failureWindow
}

// NewManager loads persisted state from store (nil keeps state in memory) and applies the
// configured defaults. Invalid configured policies fail here.
func NewManager(cfg Config, store *Store, credentials CredentialValidator, events EventLogger) (*Manager, error) {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = defaultSessionTimeout
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = defaultMaxFailedAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaultLockoutDuration
	}

	m := &Manager{
		cfg:         cfg,
		store:       store,
		credentials: credentials,
		events:      events,
		now:         time.Now,
		agents:      map[string]Permissions{},
		users:       map[string]Permissions{},
		policies:    map[string]Policy{},
		failures:    newFailureWindow(cfg.MaxFailedAttempts, cfg.LockoutDuration),
	}

	if store != nil {
		data, err := store.Load()
		if err != nil {
			return nil, err
		}
		for _, p := range data.Policies {
			m.policies[p.ID] = p
		}
		for agent, perms := range data.Agents {
			m.agents[agent] = perms
		}
		for user, perms := range data.Users {
			m.users[normalizeUser(user)] = perms
		}
	}

	seeded := false
	for agent, perms := range cfg.DefaultAgents {
		if _, ok := m.agents[agent]; !ok {
			m.agents[agent] = perms.Clone()
			seeded = true
		}
	}
	for user, perms := range cfg.DefaultUsers {
		if _, ok := m.users[normalizeUser(user)]; !ok {
			m.users[normalizeUser(user)] = perms.Clone()
			seeded = true
		}
	}
	for _, in := range cfg.Policies {
		if err := in.validate(); err != nil {
			return nil, err
		}
		if m.policyByNameLocked(in.Name) != nil {
			continue
		}
		m.insertPolicyLocked(in)
		seeded = true
	}
	if seeded {
		if err := m.persistLocked(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Authorize decides whether agentType may perform action on resource. Both outcomes are
// logged. context may carry "session_id" and numeric values checked by policy limits.
func (m *Manager) Authorize(agentType, action, resource string, context map[string]any) Decision {
	req := request{agentType: agentType, action: action, resource: resource, context: context}

	m.mu.Lock()
	decision := m.checkPermissionLocked(req)
	if decision.Authorized {
		decision = m.checkPoliciesLocked(req, decision)
	}
	m.mu.Unlock()

	sessionID, _ := context["session_id"].(string)
	data := map[string]any{
		"action":         action,
		"resource":       resource,
		"required_level": decision.RequiredLevel.String(),
	}
	if len(decision.AppliedPolicies) > 0 {
		data["applied_policies"] = decision.AppliedPolicies
	}
	if decision.Authorized {
		m.logEvent(monitor.EventAuthorizationGranted, agentType, sessionID, data, monitor.SeverityInfo)
	} else {
		data["reason"] = decision.Reason
		data["message"] = decision.Message
		if decision.ViolatedPolicy != "" {
			data["violated_policy"] = decision.ViolatedPolicy
		}
		m.logEvent(monitor.EventAuthorizationDenied, agentType, sessionID, data, monitor.SeverityWarning)
	}
	return decision
}

func (m *Manager) checkPermissionLocked(req request) Decision {
	required := RequiredLevel(req.action)
	perms := m.agents[req.agentType]

	perm, hasResource := perms[req.resource]
	wildcard, hasWildcard := perms[Wildcard]

	deny := func(msg string) Decision {
		return Decision{
			Reason:        ReasonInsufficientPermissions,
			Message:       msg,
			RequiredLevel: required,
			Permission:    perm,
		}
	}

	if hasResource {
		if allowed, ok := lookupAction(perm.Actions, req.action); ok {
			if !allowed {
				return deny(fmt.Sprintf("action %q on %q is explicitly denied for %s", req.action, req.resource, req.agentType))
			}
			return Decision{Authorized: true, RequiredLevel: required, Permission: perm}
		}
	}
	if hasWildcard {
		if allowed, ok := lookupAction(wildcard.Actions, req.action); ok {
			if !allowed {
				return deny(fmt.Sprintf("action %q is explicitly denied for %s", req.action, req.agentType))
			}
			return Decision{Authorized: true, RequiredLevel: required, Permission: wildcard}
		}
	}

	granted := LevelNone
	switch {
	case hasResource:
		granted = perm.Level
	case hasWildcard:
		granted = wildcard.Level
		perm = wildcard
	}
	if granted < required {
		return deny(fmt.Sprintf("%s holds %s on %q, %s requires %s", req.agentType, granted, req.resource, req.action, required))
	}
	return Decision{Authorized: true, RequiredLevel: required, Permission: perm}
}

func lookupAction(actions map[string]bool, action string) (bool, bool) {
	if v, ok := actions[action]; ok {
		return v, true
	}
	for k, v := range actions {
		if strings.EqualFold(k, action) {
			return v, true
		}
	}
	return false, false
}

func (m *Manager) checkPoliciesLocked(req request, decision Decision) Decision {
	for _, p := range m.sortedPoliciesLocked() {
		if !p.Enabled || !p.Rules.appliesTo(req) {
			continue
		}
		decision.AppliedPolicies = append(decision.AppliedPolicies, p.ID)
		if msg, violated := p.Rules.violation(req); violated {
			decision.Authorized = false
			decision.Reason = ReasonPolicyViolation
			decision.Message = fmt.Sprintf("policy %s (%s): %s", p.ID, p.Name, msg)
			decision.ViolatedPolicy = p.ID
			return decision
		}
	}
	return decision
}

// Authenticate checks lockout before consulting the credential store. Every outcome is
// logged as an authentication event. Safe for concurrent use: at most max attempts per
// user reach the credential store inside one window.
func (m *Manager) Authenticate(username, secret string) AuthResult {
	now := m.now()

	m.mu.Lock()
	if m.failures.locked(username, now) {
		m.mu.Unlock()
		m.logEvent(monitor.EventAuthentication, "", "", map[string]any{
			"username": username,
			"success":  false,
			"reason":   ReasonAccountLocked,
		}, monitor.SeverityWarning)
		return AuthResult{Reason: ReasonAccountLocked, Message: "account temporarily locked after repeated failures"}
	}
	m.failures.reserve(username)
	m.mu.Unlock()

	valid := m.credentials != nil && m.credentials.ValidateCredentials(username, secret)

	m.mu.Lock()
	m.failures.release(username)
	count := 0
	if !valid {
		count = m.failures.record(username, now)
	}
	m.mu.Unlock()
	if !valid {
		m.logEvent(monitor.EventAuthentication, "", "", map[string]any{
			"username":        username,
			"success":         false,
			"reason":          ReasonInvalidCredentials,
			"recent_failures": count,
		}, monitor.SeverityWarning)
		return AuthResult{Reason: ReasonInvalidCredentials, Message: "invalid username or secret"}
	}

	m.mu.Lock()
	perms := m.users[normalizeUser(username)].Clone()
	m.mu.Unlock()
	if perms == nil {
		perms = Permissions{}
	}

	session := &Session{
		ID:              uuid.NewString(),
		Username:        username,
		AuthenticatedAt: now.UTC(),
		ExpiresAt:       now.Add(m.cfg.SessionTimeout).UTC(),
		Permissions:     perms,
	}
	if m.cfg.TokenSecret != "" {
		token, err := signSession([]byte(m.cfg.TokenSecret), *session)
		if err != nil {
			slog.Error("failed to sign session token", "username", username, "error", err)
		} else {
			session.Token = token
		}
	}

	m.logEvent(monitor.EventAuthentication, "", session.ID, map[string]any{
		"username":   username,
		"success":    true,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	}, monitor.SeverityInfo)
	return AuthResult{Success: true, Session: session}
}

// VerifyToken validates a token issued by Authenticate.
func (m *Manager) VerifyToken(token string) (TokenClaims, error) {
	if m.cfg.TokenSecret == "" {
		return TokenClaims{}, fmt.Errorf("%w: token signing is not configured", ErrInvalidToken)
	}
	return parseSession([]byte(m.cfg.TokenSecret), token, m.now)
}

// SignsTokens reports whether Authenticate issues signed session tokens.
func (m *Manager) SignsTokens() bool { return m.cfg.TokenSecret != "" }

// CreatePolicy registers a new enabled (unless input.Disabled) policy.
func (m *Manager) CreatePolicy(in PolicyInput) (Policy, error) {
	if err := in.validate(); err != nil {
		return Policy{}, err
	}
	m.mu.Lock()
	p := m.insertPolicyLocked(in)
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return Policy{}, err
	}
	m.logEvent(monitor.EventPolicyChanged, "", "", map[string]any{"policy_id": p.ID, "change": "created", "name": p.Name}, monitor.SeverityInfo)
	return p, nil
}

func (m *Manager) insertPolicyLocked(in PolicyInput) Policy {
	now := m.now().UTC()
	p := Policy{
		ID:          "policy-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Rules:       in.Rules,
		Enabled:     !in.Disabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.policies[p.ID] = p
	return p
}

// UpdatePolicy replaces the definition of an existing policy.
func (m *Manager) UpdatePolicy(id string, in PolicyInput) (Policy, error) {
	if err := in.validate(); err != nil {
		return Policy{}, err
	}
	m.mu.Lock()
	p, ok := m.policies[id]
	if !ok {
		m.mu.Unlock()
		return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Rules = in.Rules
	p.Enabled = !in.Disabled
	p.UpdatedAt = m.now().UTC()
	m.policies[id] = p
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return Policy{}, err
	}
	m.logEvent(monitor.EventPolicyChanged, "", "", map[string]any{"policy_id": id, "change": "updated"}, monitor.SeverityInfo)
	return p, nil
}

// SetPolicyEnabled toggles a policy.
func (m *Manager) SetPolicyEnabled(id string, enabled bool) (Policy, error) {
	m.mu.Lock()
	p, ok := m.policies[id]
	if !ok {
		m.mu.Unlock()
		return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	p.Enabled = enabled
	p.UpdatedAt = m.now().UTC()
	m.policies[id] = p
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return Policy{}, err
	}
	m.logEvent(monitor.EventPolicyChanged, "", "", map[string]any{"policy_id": id, "change": "enabled", "enabled": enabled}, monitor.SeverityInfo)
	return p, nil
}

// DeletePolicy removes a policy.
func (m *Manager) DeletePolicy(id string) error {
	m.mu.Lock()
	if _, ok := m.policies[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	delete(m.policies, id)
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.logEvent(monitor.EventPolicyChanged, "", "", map[string]any{"policy_id": id, "change": "deleted"}, monitor.SeverityInfo)
	return nil
}

// Policy returns one policy by id.
func (m *Manager) Policy(id string) (Policy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	return p, ok
}

// ListPolicies returns every policy ordered by creation time.
func (m *Manager) ListPolicies() []Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedPoliciesLocked()
}

func (m *Manager) sortedPoliciesLocked() []Policy {
	out := make([]Policy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Policy) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (m *Manager) policyByNameLocked(name string) *Policy {
	for _, p := range m.policies {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return &p
		}
	}
	return nil
}

// UpdateAgentPermissions merges perms into the agent's map, resource by resource.
func (m *Manager) UpdateAgentPermissions(agentType string, perms Permissions) error {
	if strings.TrimSpace(agentType) == "" {
		return fmt.Errorf("agent type is required")
	}
	m.mu.Lock()
	merged := m.agents[agentType].Clone()
	if merged == nil {
		merged = Permissions{}
	}
	for res, perm := range perms.Clone() {
		merged[res] = perm
	}
	m.agents[agentType] = merged
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.logEvent(monitor.EventPolicyChanged, agentType, "", map[string]any{"change": "agent_permissions", "resources": len(perms)}, monitor.SeverityInfo)
	return nil
}

// UpdateUserPermissions merges perms into the user's map.
func (m *Manager) UpdateUserPermissions(username string, perms Permissions) error {
	key := normalizeUser(username)
	if key == "" {
		return fmt.Errorf("username is required")
	}
	m.mu.Lock()
	merged := m.users[key].Clone()
	if merged == nil {
		merged = Permissions{}
	}
	for res, perm := range perms.Clone() {
		merged[res] = perm
	}
	m.users[key] = merged
	err := m.persistLocked()
	m.mu.Unlock()
	return err
}

// AgentPermissions returns a copy of the agent's permission map.
func (m *Manager) AgentPermissions(agentType string) Permissions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[agentType].Clone()
}

// Agents lists agent types with a permission map, sorted.
func (m *Manager) Agents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.agents))
	for a := range m.agents {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// ApplyBundle registers every policy and merges every permission map in b.
func (m *Manager) ApplyBundle(b Bundle) ([]Policy, error) {
	var created []Policy
	for _, in := range b.Policies {
		p, err := m.CreatePolicy(in)
		if err != nil {
			return created, err
		}
		created = append(created, p)
	}
	for agent, perms := range b.Agents {
		if err := m.UpdateAgentPermissions(agent, perms); err != nil {
			return created, err
		}
	}
	for user, perms := range b.Users {
		if err := m.UpdateUserPermissions(user, perms); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (m *Manager) persistLocked() error {
	if m.store == nil {
		return nil
	}
	data := fileData{
		Policies: m.sortedPoliciesLocked(),
		Agents:   make(map[string]Permissions, len(m.agents)),
		Users:    make(map[string]Permissions, len(m.users)),
	}
	for a, p := range m.agents {
		data.Agents[a] = p.Clone()
	}
	for u, p := range m.users {
		data.Users[u] = p.Clone()
	}
	if err := m.store.Save(data); err != nil {
		return fmt.Errorf("persist access state: %w", err)
	}
	return nil
}

func (m *Manager) logEvent(eventType, agentType, sessionID string, data map[string]any, level monitor.Severity) {
	if m.events == nil {
		return
	}
	m.events.LogEvent(eventType, agentType, sessionID, data, level)
}
