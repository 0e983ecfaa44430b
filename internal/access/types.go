package access

import (
	"fmt"
	"strings"
	"time"
)

// PermissionLevel is the ordered capability tier.
type PermissionLevel int

const (
	LevelNone PermissionLevel = iota
	LevelRead
	LevelWrite
	LevelExecute
	LevelAdmin
)

var levelNames = [...]string{"none", "read", "write", "execute", "admin"}

func (l PermissionLevel) String() string {
	if l < LevelNone || l > LevelAdmin {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

func (l PermissionLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *PermissionLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses a level name; the empty string is LevelNone.
func ParseLevel(s string) (PermissionLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return LevelNone, nil
	}
	for i, n := range levelNames {
		if n == name {
			return PermissionLevel(i), nil
		}
	}
	return LevelNone, fmt.Errorf("unknown permission level %q", s)
}

// RequiredLevel maps an action to the level it needs. Unknown actions need admin.
func RequiredLevel(action string) PermissionLevel {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "read":
		return LevelRead
	case "write", "modify":
		return LevelWrite
	case "execute":
		return LevelExecute
	case "delete":
		return LevelAdmin
	default:
		return LevelAdmin
	}
}

// Wildcard is the resource key that applies to every resource.
const Wildcard = "*"

// ResourcePermission is what an agent holds on one resource. Explicit action entries
// take precedence over the level comparison.
type ResourcePermission struct {
	Level   PermissionLevel `json:"level" yaml:"level"`
	Actions map[string]bool `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Permissions maps resource (or Wildcard) to the permission held on it.
type Permissions map[string]ResourcePermission

// Clone returns a deep copy.
func (p Permissions) Clone() Permissions {
	if p == nil {
		return nil
	}
	out := make(Permissions, len(p))
	for res, perm := range p {
		cp := ResourcePermission{Level: perm.Level}
		if perm.Actions != nil {
			cp.Actions = make(map[string]bool, len(perm.Actions))
			for a, ok := range perm.Actions {
				cp.Actions[a] = ok
			}
		}
		out[res] = cp
	}
	return out
}

// Rules is the data-only rule set of a policy. Resources, Actions and AgentTypes scope
// the policy (empty means any); the remaining fields are predicates, any of which
// matching the request is a violation.
type Rules struct {
	Resources  []string `json:"resources,omitempty" yaml:"resources,omitempty"`
	Actions    []string `json:"actions,omitempty" yaml:"actions,omitempty"`
	AgentTypes []string `json:"agent_types,omitempty" yaml:"agent_types,omitempty"`

	ForbiddenActions          []string            `json:"forbidden_actions,omitempty" yaml:"forbidden_actions,omitempty"`
	ForbiddenResourcePrefixes []string            `json:"forbidden_resource_prefixes,omitempty" yaml:"forbidden_resource_prefixes,omitempty"`
	PermittedActions          map[string][]string `json:"permitted_actions,omitempty" yaml:"permitted_actions,omitempty"`
	Limits                    map[string]float64  `json:"limits,omitempty" yaml:"limits,omitempty"`
}

// Policy is a named rule set that can veto an otherwise permitted action.
type Policy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Rules       Rules     `json:"rules"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PolicyInput registers or replaces a policy.
type PolicyInput struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Rules       Rules  `json:"rules" yaml:"rules"`
	Disabled    bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Denial reasons.
const (
	ReasonInsufficientPermissions = "insufficient_permissions"
	ReasonPolicyViolation         = "policy_violation"
	ReasonInvalidCredentials      = "invalid_credentials"
	ReasonAccountLocked           = "account_locked"
)

// Decision is the result of Authorize. Denials are values, not errors.
type Decision struct {
	Authorized      bool               `json:"authorized"`
	Reason          string             `json:"reason,omitempty"`
	Message         string             `json:"message,omitempty"`
	RequiredLevel   PermissionLevel    `json:"required_level"`
	Permission      ResourcePermission `json:"permission"`
	ViolatedPolicy  string             `json:"violated_policy,omitempty"`
	AppliedPolicies []string           `json:"applied_policies,omitempty"`
}

// Session is issued by a successful Authenticate.
type Session struct {
	ID              string      `json:"session_id"`
	Username        string      `json:"username"`
	AuthenticatedAt time.Time   `json:"authenticated_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
	Permissions     Permissions `json:"permissions"`
	Token           string      `json:"token,omitempty"`
}

// AuthResult is the result of Authenticate.
type AuthResult struct {
	Success bool     `json:"success"`
	Reason  string   `json:"reason,omitempty"`
	Message string   `json:"message,omitempty"`
	Session *Session `json:"session,omitempty"`
}
